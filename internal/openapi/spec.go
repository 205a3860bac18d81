// Package openapi generates the OpenAPI 3.1 description of the control
// surface, served at /openapi.json.
package openapi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

var (
	specOnce   sync.Once
	specJSON   []byte
	specGenErr error
)

// ControlSurfaceSpec returns the JSON-encoded spec. Generated once per
// process; the surface is static.
func ControlSurfaceSpec() ([]byte, error) {
	specOnce.Do(func() {
		doc := buildSpec()
		specJSON, specGenErr = json.Marshal(doc)
		if specGenErr != nil {
			specGenErr = fmt.Errorf("marshal openapi spec: %w", specGenErr)
		}
	})
	return specJSON, specGenErr
}

func buildSpec() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Schema Self-Healing Engine API",
			Description: "Control surface for the schema self-healing engine: health report, scan/fix/rollback triggers, and fix history.",
			Version:     "1.0.0",
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{
		"ErrorResponse": errorResponseSchema(),
		"Issue":         issueSchema(),
		"FixRecord":     fixRecordSchema(),
		"HealthReport":  healthReportSchema(),
		"ScanAck":       scanAckSchema(),
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	doc.Paths.Set("/health-report", &openapi3.PathItem{
		Get: op("Latest issue list segmented by severity", "HealthReport"),
	})
	doc.Paths.Set("/scan", &openapi3.PathItem{
		Post: op("Trigger a manual scan cycle; concurrent triggers coalesce", "ScanAck"),
	})
	doc.Paths.Set("/fix/{issueID}", &openapi3.PathItem{
		Post: withParam(op("Run a targeted fix for one detected issue", "FixRecord"), "issueID"),
	})
	doc.Paths.Set("/rollback/{fixID}", &openapi3.PathItem{
		Post: withParam(op("Reverse a prior fix from its backup", "FixRecord"), "fixID"),
	})
	doc.Paths.Set("/history", &openapi3.PathItem{
		Get: historyOp(),
	})

	return doc
}

func op(summary, schemaName string) *openapi3.Operation {
	o := openapi3.NewOperation()
	o.Summary = summary
	o.Responses = openapi3.NewResponses()
	o.Responses.Set("200", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription("OK").
			WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/"+schemaName, nil)),
	})
	o.Responses.Set("default", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription("Error").
			WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)),
	})
	return o
}

func withParam(o *openapi3.Operation, name string) *openapi3.Operation {
	param := openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema())
	o.AddParameter(param)
	return o
}

func historyOp() *openapi3.Operation {
	o := op("Paginated fix history, newest first", "FixRecord")
	o.AddParameter(openapi3.NewQueryParameter("since").WithSchema(openapi3.NewStringSchema().WithFormat("date-time")))
	o.AddParameter(openapi3.NewQueryParameter("table").WithSchema(openapi3.NewStringSchema()))
	o.AddParameter(openapi3.NewQueryParameter("limit").WithSchema(openapi3.NewIntegerSchema()))
	o.AddParameter(openapi3.NewQueryParameter("offset").WithSchema(openapi3.NewIntegerSchema()))
	return o
}

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						},
					},
				},
			},
		},
	}
}

func issueSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":       stringProp(),
				"kind":     enumProp("TYPE_MISMATCH", "MISSING_TABLE", "MISSING_COLUMN", "MISSING_INDEX", "MISSING_FK", "CODE_PATTERN"),
				"severity": enumProp("CRITICAL", "WARNING", "INFO"),
				"target": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"table":  stringProp(),
							"column": stringProp(),
						},
					},
				},
				"evidence":          stringProp(),
				"first_detected_at": dateTimeProp(),
			},
		},
	}
}

func fixRecordSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":          stringProp(),
				"issue_id":    stringProp(),
				"applied_at":  dateTimeProp(),
				"outcome":     enumProp("SUCCESS", "FAILED", "ROLLED_BACK"),
				"backup_ref":  stringProp(),
				"reversal_of": stringProp(),
				"error":       stringProp(),
			},
		},
	}
}

func healthReportSchema() *openapi3.SchemaRef {
	issueArray := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: openapi3.NewSchemaRef("#/components/schemas/Issue", nil),
		},
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"critical_issues": issueArray,
				"warnings":        issueArray,
				"infos":           issueArray,
				"last_scan_at":    dateTimeProp(),
				"system_status":   enumProp("healthy", "degraded"),
			},
		},
	}
}

func scanAckSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"accepted":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
				"coalesced": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
			},
		},
	}
}

func stringProp() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func dateTimeProp() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
}

func enumProp(values ...string) *openapi3.SchemaRef {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: enum}}
}
