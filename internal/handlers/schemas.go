package handlers

import "github.com/xeipuuv/gojsonschema"

const schemaRegister = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["fullname", "email", "password"],
  "properties": {
    "fullname": { "type": "string", "minLength": 1, "maxLength": 200 },
    "email": { "type": "string", "format": "email" },
    "password": { "type": "string", "minLength": 8, "maxLength": 72 }
  },
  "additionalProperties": false
}`

const schemaLogin = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["email", "password"],
  "properties": {
    "email": { "type": "string", "minLength": 1 },
    "password": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const schemaPayoutDestination = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["payout_destination"],
  "properties": {
    "payout_destination": { "type": "string", "minLength": 3, "maxLength": 320 }
  },
  "additionalProperties": false
}`

const schemaCreateFile = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "price", "storage_key"],
  "properties": {
    "title": { "type": "string", "minLength": 1, "maxLength": 300 },
    "price": { "type": ["number", "string"] },
    "is_public": { "type": "boolean" },
    "storage_key": { "type": "string", "minLength": 1 },
    "preview_key": { "type": "string" }
  },
  "additionalProperties": false
}`

const schemaCreateOrder = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["file_id"],
  "properties": {
    "file_id": { "type": "string", "minLength": 1 },
    "idempotency_token": { "type": "string", "maxLength": 128 }
  },
  "additionalProperties": false
}`

const schemaRefund = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reason"],
  "properties": {
    "reason": { "type": "string", "minLength": 1, "maxLength": 500 }
  },
  "additionalProperties": false
}`

var (
	registerLoader          = gojsonschema.NewStringLoader(schemaRegister)
	loginLoader             = gojsonschema.NewStringLoader(schemaLogin)
	payoutDestinationLoader = gojsonschema.NewStringLoader(schemaPayoutDestination)
	createFileLoader        = gojsonschema.NewStringLoader(schemaCreateFile)
	createOrderLoader       = gojsonschema.NewStringLoader(schemaCreateOrder)
	refundLoader            = gojsonschema.NewStringLoader(schemaRefund)
)
