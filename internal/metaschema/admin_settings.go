package metaschema

import "encoding/json"

// AdminSettings is the validated result of an admin settings payload:
// notes are extracted, everything else becomes the draft's flags.
type AdminSettings struct {
	Notes string
	Flags map[string]any
}

// adminSettingsFields is the fixed admin settings schema. Payload keys
// outside this set, or values of the wrong kind, are rejected.
var adminSettingsFields = map[string]string{
	"notes":                "string",
	"assignee":             "string",
	"payment_sent":         "bool",
	"proof_of_publication": "string",
}

// ParseAdminSettings validates a raw admin settings payload against the
// fixed schema and splits out the notes field. The returned flags map
// replaces the draft's prior flags wholesale.
func ParseAdminSettings(payload map[string]json.RawMessage) (AdminSettings, error) {
	settings := AdminSettings{Flags: make(map[string]any, len(payload))}
	for key, raw := range payload {
		kind, ok := adminSettingsFields[key]
		if !ok {
			return AdminSettings{}, &Error{Field: key, Message: "unknown admin settings field"}
		}
		switch kind {
		case "string":
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				return AdminSettings{}, &Error{Field: key, Message: "must be a string"}
			}
			if key == "notes" {
				settings.Notes = value
			} else {
				settings.Flags[key] = value
			}
		case "bool":
			var value bool
			if err := json.Unmarshal(raw, &value); err != nil {
				return AdminSettings{}, &Error{Field: key, Message: "must be a boolean"}
			}
			settings.Flags[key] = value
		}
	}
	return settings, nil
}
