package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "KRS API",
        "description": "Course registration (KRS) service for students",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Student login"},
        {"name": "KRS", "description": "Study plan registration"},
        {"name": "Schedules", "description": "Offered sections and seat status"},
        {"name": "Students", "description": "Academic summary"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/krs/requirements": {
            "get": {
                "tags": ["KRS"],
                "summary": "KRS filling requirements",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "No active period", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/krs/classes-taken": {
            "get": {
                "tags": ["KRS"],
                "summary": "List sections on the KRS",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/krs/take": {
            "post": {
                "tags": ["KRS"],
                "summary": "Add a section to the KRS",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SectionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not eligible or window closed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Section not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Full, duplicate, credit limit or schedule conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Too many requests", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Busy, retry later", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/krs/remove": {
            "post": {
                "tags": ["KRS"],
                "summary": "Remove a section from the KRS",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SectionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Registration or line not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Busy, retry later", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/krs/card": {
            "get": {
                "tags": ["KRS"],
                "summary": "Download the KRS card",
                "produces": ["application/pdf", "text/csv"],
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["pdf", "csv"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "400": {"description": "Unsupported format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/offered": {
            "get": {
                "tags": ["Schedules"],
                "summary": "List offered sections grouped by packaged term",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "term", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/status-batch": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Live seat status",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SectionStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/me/summary": {
            "get": {
                "tags": ["Students"],
                "summary": "Academic summary of the authenticated student",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["nim", "password"],
            "properties": {
                "nim": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "SectionRequest": {
            "type": "object",
            "required": ["section_id"],
            "properties": {
                "section_id": {"type": "string", "format": "uuid"}
            }
        },
        "SectionStatusRequest": {
            "type": "object",
            "required": ["section_ids"],
            "properties": {
                "section_ids": {"type": "array", "items": {"type": "string", "format": "uuid"}}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
