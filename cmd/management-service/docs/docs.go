// Package docs holds the Swagger document served at /swagger.
//
// Regenerate with: swag init -g cmd/management-service/main.go -o cmd/management-service/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/rules/filter": {
            "get": {
                "summary": "List filter rules",
                "tags": [
                    "rules"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            },
            "post": {
                "summary": "Create filter rule",
                "tags": [
                    "rules"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/rules/filter/{id}": {
            "get": {
                "summary": "Get filter rule",
                "tags": [
                    "rules"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            },
            "put": {
                "summary": "Update filter rule",
                "tags": [
                    "rules"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            },
            "delete": {
                "summary": "Delete filter rule",
                "tags": [
                    "rules"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/rules/filter/{id}/versions": {
            "get": {
                "summary": "List filter rule versions",
                "tags": [
                    "rules"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/rules/filter/{id}/audit": {
            "get": {
                "summary": "List filter rule audit logs",
                "tags": [
                    "rules"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/audit/logs": {
            "get": {
                "summary": "List audit logs",
                "tags": [
                    "audit"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/connections": {
            "get": {
                "summary": "List connections",
                "tags": [
                    "connections"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            },
            "post": {
                "summary": "Register connection",
                "tags": [
                    "connections"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/batches": {
            "get": {
                "summary": "List event batches",
                "tags": [
                    "batches"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/batches/{id}": {
            "get": {
                "summary": "Get event batch",
                "tags": [
                    "batches"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/batches/{id}/cancel": {
            "post": {
                "summary": "Cancel event batch",
                "tags": [
                    "batches"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations": {
            "get": {
                "summary": "List automations",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            },
            "post": {
                "summary": "Create automation",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/automations/{id}": {
            "get": {
                "summary": "Get automation",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations/{id}/history": {
            "get": {
                "summary": "Automation history",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations/{id}/transition": {
            "post": {
                "summary": "Transition lifecycle state",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations/{id}/execution-state": {
            "post": {
                "summary": "Transition execution state",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations/{id}/executions": {
            "post": {
                "summary": "Record execution",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations/{id}/rollback": {
            "post": {
                "summary": "Roll back to backup",
                "tags": [
                    "automations"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations/{id}/backups": {
            "get": {
                "summary": "List backups",
                "tags": [
                    "backups"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            },
            "post": {
                "summary": "Create manual backup",
                "tags": [
                    "backups"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/automations/{id}/suggestions": {
            "post": {
                "summary": "Generate suggestion",
                "tags": [
                    "suggestions"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/backups/{id}": {
            "get": {
                "summary": "Get backup",
                "tags": [
                    "backups"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/workflows": {
            "get": {
                "summary": "List approval workflows",
                "tags": [
                    "workflows"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            },
            "post": {
                "summary": "Request change",
                "tags": [
                    "workflows"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/workflows/{id}": {
            "get": {
                "summary": "Get workflow",
                "tags": [
                    "workflows"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/workflows/{id}/approve": {
            "post": {
                "summary": "Approve workflow",
                "tags": [
                    "workflows"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/workflows/{id}/reject": {
            "post": {
                "summary": "Reject workflow",
                "tags": [
                    "workflows"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/workflows/{id}/cancel": {
            "post": {
                "summary": "Cancel workflow",
                "tags": [
                    "workflows"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/workflows/{id}/emergency-stop": {
            "post": {
                "summary": "Emergency stop workflow",
                "tags": [
                    "workflows"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/emergency-stops": {
            "get": {
                "summary": "List emergency stops",
                "tags": [
                    "emergency-stops"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            },
            "post": {
                "summary": "Halt all automations",
                "tags": [
                    "emergency-stops"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/emergency-stops/{id}": {
            "get": {
                "summary": "Get emergency stop",
                "tags": [
                    "emergency-stops"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/emergency-stops/{id}/recovery": {
            "put": {
                "summary": "Update recovery",
                "tags": [
                    "emergency-stops"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/suggestions": {
            "get": {
                "summary": "List suggestions",
                "tags": [
                    "suggestions"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                }
            }
        },
        "/suggestions/{id}": {
            "get": {
                "summary": "Get suggestion",
                "tags": [
                    "suggestions"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/suggestions/{id}/approve": {
            "post": {
                "summary": "Approve suggestion",
                "tags": [
                    "suggestions"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/suggestions/{id}/reject": {
            "post": {
                "summary": "Reject suggestion",
                "tags": [
                    "suggestions"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        },
        "/suggestions/{id}/implemented": {
            "post": {
                "summary": "Mark suggestion implemented",
                "tags": [
                    "suggestions"
                ],
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "default": {
                        "description": "JSON body"
                    }
                },
                "parameters": [
                    {
                        "type": "string",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ]
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Homeflow Management Service API",
	Description:      "REST API for filter rules, event batches, automation lifecycle, approvals, suggestions and backups",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
