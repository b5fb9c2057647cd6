package handler

import "github.com/d9705996/ama/internal/api/validate"

var (
	registerSchema = validate.MustCompile(`{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email":    {"type": "string", "format": "email", "maxLength": 254},
			"password": {"type": "string", "minLength": 8, "maxLength": 72},
			"name":     {"type": "string", "maxLength": 100}
		},
		"additionalProperties": false
	}`)

	loginSchema = validate.MustCompile(`{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email":    {"type": "string", "minLength": 1},
			"password": {"type": "string", "minLength": 1}
		}
	}`)

	refreshSchema = validate.MustCompile(`{
		"type": "object",
		"required": ["refresh_token"],
		"properties": {
			"refresh_token": {"type": "string", "minLength": 1}
		}
	}`)

	guestSchema = validate.MustCompile(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "maxLength": 100}
		},
		"additionalProperties": false
	}`)

	passwordSchema = validate.MustCompile(`{
		"type": "object",
		"required": ["current_password", "new_password"],
		"properties": {
			"current_password": {"type": "string", "minLength": 1},
			"new_password":     {"type": "string", "minLength": 8, "maxLength": 72}
		},
		"additionalProperties": false
	}`)

	userCreateSchema = validate.MustCompile(`{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email":    {"type": "string", "format": "email", "maxLength": 254},
			"password": {"type": "string", "minLength": 8, "maxLength": 72},
			"name":     {"type": "string", "maxLength": 100},
			"role":     {"type": "string", "enum": ["admin", "moderator", "presenter", "user"]}
		},
		"additionalProperties": false
	}`)

	userPatchSchema = validate.MustCompile(`{
		"type": "object",
		"minProperties": 1,
		"properties": {
			"email": {"type": "string", "format": "email", "maxLength": 254},
			"name":  {"type": "string", "maxLength": 100},
			"role":  {"type": "string", "enum": ["admin", "moderator", "presenter", "user"]}
		},
		"additionalProperties": false
	}`)

	eventCreateSchema = validate.MustCompile(`{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name":        {"type": "string", "minLength": 1, "maxLength": 200},
			"description": {"type": "string", "maxLength": 5000},
			"open_date":   {"type": ["string", "null"], "format": "date-time"},
			"close_date":  {"type": ["string", "null"], "format": "date-time"},
			"is_public":   {"type": "boolean"}
		},
		"additionalProperties": false
	}`)

	eventPatchSchema = validate.MustCompile(`{
		"type": "object",
		"minProperties": 1,
		"properties": {
			"name":        {"type": "string", "minLength": 1, "maxLength": 200},
			"description": {"type": "string", "maxLength": 5000},
			"open_date":   {"type": ["string", "null"], "format": "date-time"},
			"close_date":  {"type": ["string", "null"], "format": "date-time"},
			"is_public":   {"type": "boolean"},
			"is_active":   {"type": "boolean"}
		},
		"additionalProperties": false
	}`)

	moderatorSchema = validate.MustCompile(`{
		"type": "object",
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"email":   {"type": "string", "minLength": 1}
		},
		"anyOf": [
			{"required": ["user_id"]},
			{"required": ["email"]}
		],
		"additionalProperties": false
	}`)

	questionCreateSchema = validate.MustCompile(`{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text":         {"type": "string", "minLength": 1, "maxLength": 2000},
			"is_anonymous": {"type": "boolean"}
		},
		"additionalProperties": false
	}`)

	questionPatchSchema = validate.MustCompile(`{
		"type": "object",
		"minProperties": 1,
		"properties": {
			"text":               {"type": "string", "minLength": 1, "maxLength": 2000},
			"is_anonymous":       {"type": "boolean"},
			"is_starred":         {"type": "boolean"},
			"is_answered":        {"type": "boolean"},
			"is_staged":          {"type": "boolean"},
			"presenter_notes":    {"type": "string", "maxLength": 5000},
			"ai_summary":         {"type": "string", "maxLength": 1000},
			"tags": {
				"type": "array",
				"maxItems": 20,
				"items": {"type": "string", "minLength": 1, "maxLength": 50}
			},
			"parent_question_id": {"type": ["string", "null"]}
		},
		"additionalProperties": false
	}`)
)
