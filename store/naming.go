package store

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/google/uuid"

	"scbe/config"
)

const (
	ProjectExt    = ".scormproj"
	BackupExt     = ".backup"
	contentDBName = "content.db"
	mediaDirName  = "media"
)

// Values is a struct that holds variables we make available for project
// name template expansion.
type Values struct {
	Context string
	Name    string
	ID      string
	Created time.Time
}

func expandNameTemplate(field string, values Values) (string, error) {
	funcMap := sprig.FuncMap()

	tmpl, err := template.New(string(config.NameTemplateFieldName)).Funcs(funcMap).Parse(field)
	if err != nil {
		return "", fmt.Errorf("unable to parse template field %s: %w", config.NameTemplateFieldName, err)
	}

	values.Context = string(config.NameTemplateFieldName)

	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, values); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// projectFileName builds "<name>_<id>.scormproj" using configured template for
// the name part.
func projectFileName(tmpl, name, id string, created time.Time) (string, error) {
	base := name
	if len(tmpl) > 0 {
		expanded, err := expandNameTemplate(tmpl, Values{Name: name, ID: id, Created: created})
		if err != nil {
			return "", err
		}
		base = expanded
	}
	return config.CleanFileName(base) + "_" + id + ProjectExt, nil
}

var numericID = regexp.MustCompile(`^[0-9]+$`)

// ExtractProjectID returns project id from "Name_<id>.scormproj" path. Bare
// ids are returned as is. Both uuid and older numeric ids are recognized.
func ExtractProjectID(idOrPath string) string {
	base := filepath.Base(idOrPath)
	if !strings.Contains(base, ProjectExt) {
		return idOrPath
	}
	stem := base[:strings.Index(base, ProjectExt)]
	if pos := strings.LastIndexByte(stem, '_'); pos >= 0 {
		if candidate := stem[pos+1:]; isProjectID(candidate) {
			return candidate
		}
	}
	if isProjectID(stem) {
		return stem
	}
	return idOrPath
}

func isProjectID(s string) bool {
	if numericID.MatchString(s) {
		return true
	}
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
