package actions

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/kingrea/shipyard/internal/feature"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// Deployer runs a deploy command and takes the last URL it prints. When the
// output has none, URLTemplate (for example "https://apps.example.com/{slug}")
// is expanded instead.
type Deployer struct {
	Command     *Command
	URLTemplate string
}

// Deploy implements pipeline.Deployer.
func (d *Deployer) Deploy(ctx context.Context, spec feature.Spec) (string, error) {
	vars := Vars(spec, "")
	res, err := d.Command.run(ctx, vars)
	if err != nil {
		return "", err
	}
	if url := LastURL(res.Stdout); url != "" {
		return url, nil
	}
	if d.URLTemplate != "" {
		return replacer(vars).Replace(d.URLTemplate), nil
	}
	return "", errors.New("actions: deploy produced no url")
}

// LastURL returns the last http(s) URL in output.
func LastURL(output string) string {
	matches := urlPattern.FindAllString(output, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimRight(matches[len(matches)-1], ".,;)")
}
