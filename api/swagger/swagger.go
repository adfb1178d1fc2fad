package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "EdTech Asset API",
        "description": "Device and application tracking for the school device program",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Session management"},
        {"name": "Applications", "description": "New-device and maintenance requests"},
        {"name": "Devices", "description": "Device registry"},
        {"name": "Schools", "description": "School registry"},
        {"name": "Users", "description": "Account management"},
        {"name": "Analytics", "description": "Fleet rollups and exports"},
        {"name": "Automation", "description": "Periodic maintenance routines"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "summary": "Revoke the presented access token",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Return the authenticated user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications": {
            "get": {
                "tags": ["Applications"],
                "summary": "List applications",
                "parameters": [
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "priority", "in": "query", "type": "string"},
                    {"name": "schoolId", "in": "query", "type": "string"},
                    {"name": "assignedTo", "in": "query", "type": "string"},
                    {"name": "isOverdue", "in": "query", "type": "boolean"},
                    {"name": "dateFrom", "in": "query", "type": "string"},
                    {"name": "dateTo", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/new-device": {
            "post": {
                "tags": ["Applications"],
                "summary": "Submit a new-device request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateNewDeviceApplicationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/maintenance": {
            "post": {
                "tags": ["Applications"],
                "summary": "Submit a maintenance request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateMaintenanceApplicationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/statistics": {
            "get": {
                "tags": ["Applications"],
                "summary": "Application workflow statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/school/{schoolId}": {
            "get": {
                "tags": ["Applications"],
                "summary": "List applications of one school",
                "parameters": [
                    {"name": "schoolId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}": {
            "get": {
                "tags": ["Applications"],
                "summary": "Get one application with its device issues",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Applications"],
                "summary": "Patch an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateApplicationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Applications"],
                "summary": "Delete an application and its device issues",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/applications/{id}/assign": {
            "post": {
                "tags": ["Applications"],
                "summary": "Assign an application to a technician",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignApplicationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/approve": {
            "post": {
                "tags": ["Applications"],
                "summary": "Approve an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/reject": {
            "post": {
                "tags": ["Applications"],
                "summary": "Reject an application with a reason",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectApplicationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/start": {
            "post": {
                "tags": ["Applications"],
                "summary": "Move an application into progress",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/cancel": {
            "post": {
                "tags": ["Applications"],
                "summary": "Cancel an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/complete": {
            "post": {
                "tags": ["Applications"],
                "summary": "Complete an application",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/issues/{issueId}": {
            "put": {
                "tags": ["Applications"],
                "summary": "Record technician action on one device issue",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "issueId", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateDeviceIssueRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/applications/{id}/letter": {
            "get": {
                "tags": ["Applications"],
                "summary": "Download the application letter",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "PDF stream"}
                }
            },
            "post": {
                "tags": ["Applications"],
                "summary": "Upload the application letter PDF",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/devices": {
            "get": {
                "tags": ["Devices"],
                "summary": "List devices",
                "parameters": [
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "condition", "in": "query", "type": "string"},
                    {"name": "schoolId", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Devices"],
                "summary": "Register a device",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateDeviceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/devices/{id}": {
            "get": {
                "tags": ["Devices"],
                "summary": "Get device",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Devices"],
                "summary": "Update device",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateDeviceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Devices"],
                "summary": "Delete device",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/schools": {
            "get": {
                "tags": ["Schools"],
                "summary": "List schools",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Schools"],
                "summary": "Register a school",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSchoolRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List user accounts",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Users"],
                "summary": "Create a user account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateUserRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/categories": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Device counts grouped by category",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/utilization": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Active share of the device fleet",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/depreciation": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Straight-line depreciation over the fleet",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/age": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Device counts grouped by age bracket",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analytics/export": {
            "get": {
                "tags": ["Analytics"],
                "summary": "Export the device inventory as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File stream"}
                }
            }
        },
        "/automation/rules": {
            "get": {
                "tags": ["Automation"],
                "summary": "List automation rules",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/automation/run/{routine}": {
            "post": {
                "tags": ["Automation"],
                "summary": "Run one automation routine immediately",
                "parameters": [
                    {"name": "routine", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "CreateNewDeviceApplicationRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "school_id": {"type": "string"},
                "priority": {"type": "string"},
                "requested_device_count": {"type": "integer"},
                "requested_device_type": {"type": "string"},
                "justification": {"type": "string"}
            },
            "required": ["title", "description", "school_id", "requested_device_count", "requested_device_type", "justification"]
        },
        "CreateMaintenanceApplicationRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "school_id": {"type": "string"},
                "priority": {"type": "string"},
                "device_issues": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/DeviceIssueInput"}
                }
            },
            "required": ["title", "description", "school_id", "device_issues"]
        },
        "DeviceIssueInput": {
            "type": "object",
            "properties": {
                "device_id": {"type": "string"},
                "problem_description": {"type": "string"}
            },
            "required": ["device_id", "problem_description"]
        },
        "UpdateApplicationRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "priority": {"type": "string"},
                "status": {"type": "string"},
                "assigned_to": {"type": "string"},
                "admin_notes": {"type": "string"},
                "rejection_reason": {"type": "string"},
                "estimated_completion_date": {"type": "string"},
                "estimated_cost": {"type": "number"},
                "actual_cost": {"type": "number"}
            }
        },
        "AssignApplicationRequest": {
            "type": "object",
            "properties": {
                "assigned_to": {"type": "string"},
                "estimated_completion_date": {"type": "string"}
            },
            "required": ["assigned_to"]
        },
        "RejectApplicationRequest": {
            "type": "object",
            "properties": {
                "rejection_reason": {"type": "string"}
            },
            "required": ["rejection_reason"]
        },
        "UpdateDeviceIssueRequest": {
            "type": "object",
            "properties": {
                "action_taken": {"type": "string"},
                "resolved": {"type": "boolean"}
            },
            "required": ["action_taken"]
        },
        "CreateDeviceRequest": {
            "type": "object",
            "properties": {
                "serial_number": {"type": "string"},
                "category": {"type": "string"},
                "model": {"type": "string"},
                "school_id": {"type": "string"},
                "condition": {"type": "string"},
                "purchase_date": {"type": "string"},
                "purchase_cost": {"type": "number"},
                "warranty_expiry": {"type": "string"}
            },
            "required": ["serial_number", "category"]
        },
        "UpdateDeviceRequest": {
            "type": "object",
            "properties": {
                "serial_number": {"type": "string"},
                "category": {"type": "string"},
                "model": {"type": "string"},
                "school_id": {"type": "string"},
                "unassign": {"type": "boolean"},
                "status": {"type": "string"},
                "condition": {"type": "string"}
            }
        },
        "CreateSchoolRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "code": {"type": "string"},
                "district": {"type": "string"},
                "contact_email": {"type": "string"},
                "contact_phone": {"type": "string"}
            },
            "required": ["name", "code", "district", "contact_email"]
        },
        "CreateUserRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "full_name": {"type": "string"},
                "role": {"type": "string"},
                "school_id": {"type": "string"}
            },
            "required": ["email", "password", "full_name", "role"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"}
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
