// Package swagger registers the OpenAPI document served at /swagger/*any.
// Regenerate with: swag init -g cmd/payment-server/main.go -o docs/swagger
package swagger

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
        "/payments/qr": {
            "post": {
                "description": "Create a pending payment intent and return its payment URI and PNG QR code",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Payment"],
                "summary": "Create payment QR",
                "parameters": [
                    {
                        "description": "QR Payment",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/request.CreateQRPaymentRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/payments/transfers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Payment"],
                "summary": "List transfers received by an address",
                "parameters": [
                    {"type": "string", "name": "address", "in": "query", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/payments/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Payment"],
                "summary": "Get payment intent",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        }
    },
    "definitions": {
        "request.CreateQRPaymentRequest": {
            "type": "object",
            "required": ["blockchain", "clientId", "coinName", "toAddress"],
            "properties": {
                "blockchain": {"type": "string", "example": "ethereum"},
                "coinName": {"type": "string", "example": "USDT"},
                "clientId": {"type": "string"},
                "toAddress": {"type": "string"},
                "amount": {"type": "string", "example": "25.5"},
                "contract": {"type": "string"}
            }
        },
        "response.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "msg": {"type": "string"},
                "data": {}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Payment Gateway API",
	Description:      "Crypto payment QR codes with on-chain settlement",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
