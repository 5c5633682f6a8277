// Package docs holds the generated OpenAPI document served at /swagger/.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/markets": {
            "get": {
                "produces": ["application/json"],
                "tags": ["markets"],
                "summary": "List all markets",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/markets/{market_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["markets"],
                "summary": "Get one market",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/v1/markets/{market_id}/tally": {
            "get": {
                "produces": ["application/json"],
                "tags": ["votes"],
                "summary": "Current vote tally for a market",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true},
                    {"type": "string", "name": "vote_type", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/markets/{market_id}/results": {
            "get": {
                "produces": ["application/json"],
                "tags": ["votes"],
                "summary": "Aggregation audit trail for a market",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/markets/{market_id}/votes": {
            "get": {
                "produces": ["application/json"],
                "tags": ["votes"],
                "summary": "List recorded votes for a market",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true},
                    {"type": "string", "name": "vote_type", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["votes"],
                "summary": "Submit a proposal or dispute vote",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Forbidden"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/markets/{market_id}/activate": {
            "post": {
                "produces": ["application/json"],
                "tags": ["lifecycle"],
                "summary": "Activate an approved market",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/markets/{market_id}/cancel": {
            "post": {
                "produces": ["application/json"],
                "tags": ["lifecycle"],
                "summary": "Cancel a market before activation",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/markets/{market_id}/resolve": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["lifecycle"],
                "summary": "Propose a resolution outcome",
                "parameters": [
                    {"type": "string", "name": "market_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/v1/webhooks/ledger": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["indexer"],
                "summary": "Ingest a batch of ledger transaction events",
                "parameters": [
                    {"type": "string", "name": "X-Webhook-Signature", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized"}
                }
            }
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "zmart market governance API",
	Description:      "Off-chain vote aggregation, lifecycle monitoring and ledger event indexing for zmart prediction markets.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
