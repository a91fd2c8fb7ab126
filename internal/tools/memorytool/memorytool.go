// Package memorytool provides the "manage_memory" tool, which lets the
// assistant keep short keyed notes about the user across sessions.
//
// An empty value deletes the note. Updating or deleting a key that does not
// exist is a no-op reported as "not found", not a failure.
package memorytool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/internal/tools"
)

// Name is the function name advertised to the service.
const Name = "manage_memory"

// Actions accepted in the "action" argument.
const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Store is the persistent memory map.
type Store interface {
	Memory(key string) (string, bool)
	SetMemory(key, value string) error
	DeleteMemory(key string) (bool, error)
}

type args struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// New returns the manage_memory tool backed by store.
func New(store Store) tools.Tool {
	return tools.Tool{
		Definition: tools.Function(Name,
			"Save, change or forget a short fact about the user so it is remembered in future conversations.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type": "string",
						"enum": []string{ActionAdd, ActionUpdate, ActionDelete},
					},
					"key": map[string]any{
						"type":        "string",
						"description": "Short identifier, e.g. favourite_food.",
					},
					"value": map[string]any{
						"type":        "string",
						"description": "The fact to remember. Leave empty to forget the key.",
					},
				},
				"required": []string{"action", "key"},
			}),
		Progress: "Updating memory…",
		Handler: func(_ context.Context, raw string) (tools.Result, error) {
			var a args
			if err := tools.DecodeArgs(raw, &a); err != nil {
				return tools.Result{}, err
			}
			return apply(store, a)
		},
	}
}

func apply(store Store, a args) (tools.Result, error) {
	key := strings.TrimSpace(a.Key)
	if key == "" {
		return tools.Result{}, tools.InvalidArguments(errors.New("key must not be empty"))
	}
	action := strings.ToLower(strings.TrimSpace(a.Action))
	value := strings.TrimSpace(a.Value)

	switch action {
	case ActionAdd, ActionUpdate, ActionDelete:
	default:
		return tools.Result{}, tools.InvalidArguments(fmt.Errorf("unknown action %q", a.Action))
	}

	if action == ActionDelete || value == "" {
		ok, err := store.DeleteMemory(key)
		if err != nil {
			return tools.Result{}, tools.Upstream(fmt.Errorf("memory: delete %q: %w", key, err))
		}
		if !ok {
			return notFound(key), nil
		}
		return tools.Result{Output: fmt.Sprintf("Forgot %q.", key), Status: "Memory removed"}, nil
	}

	if action == ActionUpdate {
		if _, ok := store.Memory(key); !ok {
			return notFound(key), nil
		}
	}
	if err := store.SetMemory(key, value); err != nil {
		return tools.Result{}, tools.Upstream(fmt.Errorf("memory: set %q: %w", key, err))
	}
	return tools.Result{Output: fmt.Sprintf("Remembered %s: %s", key, value), Status: "Memory saved"}, nil
}

func notFound(key string) tools.Result {
	return tools.Result{
		Output: fmt.Sprintf("not found: there is no memory with key %q", key),
		Status: "Memory not found",
	}
}
