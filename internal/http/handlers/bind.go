package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// BindJSON decodes the body into out. On failure it has already answered
// 400 with per-field details (or 413 for an oversized body).
func BindJSON(ctx *gin.Context, out interface{}) bool {
	return bindWith(ctx, out, binding.JSON, "json", "Invalid request body")
}

// BindQuery binds URL query parameters; field names in errors follow the form tags.
func BindQuery(ctx *gin.Context, out interface{}) bool {
	return bindWith(ctx, out, binding.Query, "form", "Invalid query parameters")
}

// BindForm binds an urlencoded or multipart form body.
func BindForm(ctx *gin.Context, out interface{}) bool {
	b := binding.FormPost
	if strings.HasPrefix(ctx.ContentType(), binding.MIMEMultipartPOSTForm) {
		b = binding.FormMultipart
	}
	return bindWith(ctx, out, b, "form", "Invalid request body")
}

func bindWith(ctx *gin.Context, out interface{}, b binding.Binding, tag, message string) bool {
	err := ctx.ShouldBindWith(out, b)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(ctx, http.StatusRequestEntityTooLarge, "payload_too_large",
			fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit), nil)
		return false
	}

	RespondBadRequest(ctx, message, bindErrorDetails(err, out, tag))
	return false
}

func bindErrorDetails(err error, out interface{}, tag string) interface{} {
	names := fieldNamer{root: baseStructType(out), tag: tag}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make([]FieldError, 0, len(validationErrs))
		for _, fe := range validationErrs {
			fields = append(fields, FieldError{
				Field:   names.fromNamespace(fe),
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: validationMessage(fe.Tag(), fe.Param()),
			})
		}
		return gin.H{"fields": fields}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return gin.H{"json": "invalid_json_syntax"}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := names.fromPath(strings.Split(strings.TrimSpace(typeErr.Field), "."))
		if field == "" {
			field = strings.TrimSpace(typeErr.Field)
		}
		return gin.H{
			"json":  "invalid_json_type",
			"field": field,
			"fields": []FieldError{{
				Field:   field,
				Rule:    "type",
				Message: fmt.Sprintf("must be of type %s", typeErr.Type.String()),
			}},
		}
	}

	return gin.H{"reason": err.Error()}
}

// fieldNamer turns Go struct paths into the names clients sent, read from tag.
type fieldNamer struct {
	root reflect.Type
	tag  string
}

func (n fieldNamer) fromNamespace(fe validator.FieldError) string {
	// "<StructName>.<Field>[.<NestedField>...]"
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 && n.root != nil && parts[0] == n.root.Name() {
		parts = parts[1:]
	}
	if name := n.fromPath(parts); name != "" {
		return name
	}
	return fe.Field()
}

func (n fieldNamer) fromPath(parts []string) string {
	current := n.root
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			continue
		}

		fieldName, index := part, ""
		if i := strings.Index(part, "["); i >= 0 {
			fieldName, index = part[:i], part[i:]
		}

		name := fieldName
		var next reflect.Type
		if current != nil && current.Kind() == reflect.Struct {
			if sf, ok := current.FieldByName(fieldName); ok {
				name = tagName(sf, n.tag)
				next = elemType(sf.Type)
			}
		}

		out = append(out, name+index)
		current = next
	}

	return strings.Join(out, ".")
}

func tagName(sf reflect.StructField, tag string) string {
	name, _, _ := strings.Cut(sf.Tag.Get(tag), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

func baseStructType(v interface{}) reflect.Type {
	t := elemType(reflect.TypeOf(v))
	if t != nil && t.Kind() == reflect.Struct {
		return t
	}
	return nil
}

func elemType(t reflect.Type) reflect.Type {
	for t != nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array:
			t = t.Elem()
		default:
			return t
		}
	}
	return nil
}

func validationMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", rule, param)
		}
		return "failed " + rule + " validation"
	}
}
