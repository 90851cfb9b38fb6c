package models

import "fmt"

// Flatten returns a copy of the action with any nested Config settings
// merged over the flat fields. Rule definitions written by older editor
// versions nest everything under "config"; dispatch only reads the flat
// fields, so the merge keeps both generations of rules working.
func (a Action) Flatten() Action {
	if len(a.Config) == 0 {
		return a
	}
	out := a
	for key, raw := range a.Config {
		switch key {
		case "title":
			out.Title = asString(raw)
		case "description":
			out.Description = asString(raw)
		case "task_type":
			out.TaskType = asString(raw)
		case "priority":
			out.Priority = asString(raw)
		case "reason":
			out.Reason = asString(raw)
		case "ai_generated":
			if b, ok := raw.(bool); ok {
				out.AIGenerated = b
			}
		case "stage":
			out.Stage = LifecycleStage(asString(raw))
		case "tags":
			out.Tags = asStringSlice(raw)
		case "score":
			out.Score = asString(raw)
		case "operation":
			out.Operation = ScoreOperation(asString(raw))
		case "amount":
			out.Amount = asInt(raw)
		case "relationship_id":
			out.RelationshipID = asString(raw)
		case "channel":
			out.Channel = asString(raw)
		case "message":
			out.Message = asString(raw)
		}
	}
	return out
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, asString(item))
		}
		return out
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	default:
		return nil
	}
}
