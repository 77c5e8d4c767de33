package invokation

import (
	"strings"

	appErr "coderunner/pkg/errors"

	"github.com/google/shlex"
)

// Trigger is one submission event.
type Trigger struct {
	ID       string
	Language string
	Code     []byte
	Stdin    string
	Options  []string
	Args     []string
	// Compact shows only stdout of successful runs until streams are toggled.
	Compact bool
}

// Request is a trigger as it arrives over HTTP or Kafka, with options and
// arguments still in shell syntax.
type Request struct {
	TriggerID string `json:"trigger_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	Stdin     string `json:"stdin"`
	Options   string `json:"options"`
	Args      string `json:"args"`
	Compact   bool   `json:"compact"`
}

// ParseRequest splits options and arguments. Bad quoting is reported to the
// originator before anything runs.
func ParseRequest(req Request) (Trigger, error) {
	options, err := splitWords(req.Options)
	if err != nil {
		return Trigger{}, appErr.Newf(appErr.InvalidOptions, "Invalid options: %v", err)
	}
	args, err := splitWords(req.Args)
	if err != nil {
		return Trigger{}, appErr.Newf(appErr.InvalidArguments, "Invalid arguments: %v", err)
	}
	return Trigger{
		ID:       strings.TrimSpace(req.TriggerID),
		Language: req.Language,
		Code:     []byte(req.Code),
		Stdin:    req.Stdin,
		Options:  options,
		Args:     args,
		Compact:  req.Compact,
	}, nil
}

func splitWords(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	words, err := shlex.Split(s)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}
	return words, nil
}
