package chatwire

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/relaychat/internal/chat"
)

// Inbound frames are validated against these schemas before dispatch, so a
// misbehaving or mid-upgrade server cannot push half-formed records into the
// reconciliation path. Unknown events carry no schema and skip validation.

const messageSchema = `{
	"type": "object",
	"required": ["id", "conversation", "sender", "createdAt"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"clientTempId": {"type": "string"},
		"conversation": {"type": "string", "minLength": 1},
		"sender": {"type": "string", "minLength": 1},
		"recipient": {"type": "string"},
		"content": {"type": "string"},
		"attachment": {
			"type": "object",
			"required": ["url", "type"],
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"type": {"type": "string"}
			}
		},
		"createdAt": {"type": "string"},
		"edited": {"type": "boolean"},
		"deleted": {"type": "boolean"},
		"reactions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["emoji", "userId"],
				"properties": {
					"emoji": {"type": "string", "minLength": 1},
					"userId": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var eventSchemaSources = map[string]string{
	chat.EventMessageCreated: `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"message": {"$ref": "message.json"}
		}
	}`,
	chat.EventMessageConfirmed: `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"clientTempId": {"type": "string"},
			"message": {"$ref": "message.json"}
		}
	}`,
	chat.EventMessageEdited: `{
		"type": "object",
		"required": ["conversation", "messageId", "content"],
		"properties": {
			"conversation": {"type": "string", "minLength": 1},
			"messageId": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		}
	}`,
	chat.EventMessageDeleted: `{
		"type": "object",
		"required": ["conversation", "messageId"],
		"properties": {
			"conversation": {"type": "string", "minLength": 1},
			"messageId": {"type": "string", "minLength": 1},
			"forEveryone": {"type": "boolean"}
		}
	}`,
	chat.EventReactionChanged: `{
		"type": "object",
		"required": ["conversation", "messageId", "reactions"],
		"properties": {
			"conversation": {"type": "string", "minLength": 1},
			"messageId": {"type": "string", "minLength": 1},
			"reactions": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["emoji", "userId"],
					"properties": {
						"emoji": {"type": "string", "minLength": 1},
						"userId": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}`,
}

const schemaBaseURL = "relaychat:///"

var (
	schemaOnce     sync.Once
	schemaCompiled map[string]*jsonschema.Schema
	schemaErr      error
)

func compiledEventSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		addResource := func(name, source string) error {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
			if err != nil {
				return fmt.Errorf("parse schema %s: %w", name, err)
			}
			return compiler.AddResource(schemaBaseURL+name, doc)
		}
		if schemaErr = addResource("message.json", messageSchema); schemaErr != nil {
			return
		}
		for event, source := range eventSchemaSources {
			if schemaErr = addResource(schemaResourceName(event), source); schemaErr != nil {
				return
			}
		}
		compiled := map[string]*jsonschema.Schema{}
		for event := range eventSchemaSources {
			sch, err := compiler.Compile(schemaBaseURL + schemaResourceName(event))
			if err != nil {
				schemaErr = fmt.Errorf("compile schema for %s: %w", event, err)
				return
			}
			compiled[event] = sch
		}
		schemaCompiled = compiled
	})
	return schemaCompiled, schemaErr
}

func schemaResourceName(event string) string {
	return strings.ReplaceAll(event, ":", "-") + ".json"
}

func validateEventPayload(event string, payload []byte) error {
	schemas, err := compiledEventSchemas()
	if err != nil {
		return err
	}
	sch, ok := schemas[event]
	if !ok {
		return nil
	}
	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
