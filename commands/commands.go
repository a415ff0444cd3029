// Package commands parses the terminal client's input lines and renders its
// prompt templates.
package commands

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Command is one parsed input line. Lines not starting with "/" are chat
// messages and come back with Name "" and the whole line in Rest.
type Command struct {
	Name string
	Args []string
	Rest string
}

func Parse(line string) Command {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") || trimmed == "/" {
		return Command{Rest: line}
	}
	parts := strings.Fields(trimmed[1:])
	cmd := Command{Name: strings.ToLower(parts[0]), Args: parts[1:]}
	if len(parts) > 1 {
		cmd.Rest = strings.TrimSpace(strings.TrimPrefix(trimmed[1:], parts[0]))
	}
	return cmd
}

// Arg returns the i-th argument or "".
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Context holds the values available to {{...}} placeholders.
type Context struct {
	Input       string
	UserID      string
	UserName    string
	Role        string
	ChannelID   string
	ChannelName string
	Unread      int
}

var indexPattern = regexp.MustCompile(`\{\{input\.(\d+)\}\}`)

// Render replaces {{placeholder}} markers in template. Unknown markers are
// left as they are.
func Render(template string, ctx *Context) string {
	inputParts := strings.Fields(ctx.Input)

	result := strings.ReplaceAll(template, "{{input}}", ctx.Input)
	result = indexPattern.ReplaceAllStringFunc(result, func(match string) string {
		m := indexPattern.FindStringSubmatch(match)
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx >= len(inputParts) {
			return ""
		}
		return inputParts[idx]
	})
	rest := ""
	if len(inputParts) > 1 {
		rest = strings.Join(inputParts[1:], " ")
	}

	now := time.Now()
	return strings.NewReplacer(
		"{{input.rest}}", rest,
		"{{user.id}}", ctx.UserID,
		"{{user.name}}", ctx.UserName,
		"{{user.role}}", ctx.Role,
		"{{channel.id}}", ctx.ChannelID,
		"{{channel.name}}", ctx.ChannelName,
		"{{unread}}", strconv.Itoa(ctx.Unread),
		"{{time}}", now.Format("15:04"),
		"{{date}}", now.Format("2006-01-02"),
	).Replace(result)
}
