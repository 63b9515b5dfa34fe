package services

import (
	"regexp"
	"strconv"
	"time"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// RenderTemplate replaces every {{key}} in body. Keys without a value render as "".
func RenderTemplate(body string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		return vars[key]
	})
}

// TemplateDefaults produces the variables every template can use.
type TemplateDefaults struct {
	AppName    string
	Location   *time.Location
	DateFormat string
	TimeFormat string
}

func (d TemplateDefaults) variables(now time.Time) map[string]string {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return map[string]string{
		"appName":  d.AppName,
		"date":     local.Format(d.DateFormat),
		"time":     local.Format(d.TimeFormat),
		"datetime": local.Format(d.DateFormat + " " + d.TimeFormat),
		"year":     strconv.Itoa(local.Year()),
	}
}

// mergeVariables layers caller values over the defaults.
func mergeVariables(defaults, vars map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(vars))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}
