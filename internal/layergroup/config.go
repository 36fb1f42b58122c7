// Package layergroup defines the layer-group configuration, its canonical
// form, the identifier derived from it and the error taxonomy shared by the
// resolution pipeline.
package layergroup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Layer is one data query plus its style. Field order is the canonical order.
type Layer struct {
	SQL             string `json:"sql" msgpack:"sql"`
	CartoCSS        string `json:"cartocss" msgpack:"cartocss"`
	CartoCSSVersion string `json:"cartocss_version" msgpack:"cartocss_version"`
	Interactivity   string `json:"interactivity,omitempty" msgpack:"interactivity,omitempty"`
}

type Config struct {
	Version string
	Layers  []Layer
	StatTag string
}

// Queries returns the data query of every layer, in layer order.
func (c Config) Queries() []string {
	out := make([]string, len(c.Layers))
	for i, l := range c.Layers {
		out[i] = l.SQL
	}
	return out
}

const maxBodyBytes = 1 << 20

type wireConfig struct {
	Version string      `json:"version" validate:"required,max=32"`
	StatTag string      `json:"stat_tag,omitempty" validate:"omitempty,max=128"`
	Layers  []wireLayer `json:"layers" validate:"required,min=1,max=64,dive"`
}

type wireLayer struct {
	Type    string      `json:"type,omitempty" validate:"omitempty,oneof=cartodb mapnik"`
	Options wireOptions `json:"options"`
}

type wireOptions struct {
	SQL             string `json:"sql" validate:"required"`
	CartoCSS        string `json:"cartocss" validate:"required"`
	CartoCSSVersion string `json:"cartocss_version" validate:"required,max=32"`
	Interactivity   string `json:"interactivity,omitempty" validate:"omitempty,max=256"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode reads a layer-group submission. Unknown fields, trailing data and
// missing required fields are reported as a *ValidationError.
func Decode(r io.Reader) (Config, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return Config{}, fmt.Errorf("read layergroup body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return Config{}, &ValidationError{Messages: []string{"layergroup body too large"}}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var w wireConfig
	if err := dec.Decode(&w); err != nil {
		return Config{}, &ValidationError{Messages: []string{"invalid layergroup json: " + err.Error()}}
	}
	if dec.More() {
		return Config{}, &ValidationError{Messages: []string{"invalid layergroup json: trailing data"}}
	}
	if err := validate.Struct(w); err != nil {
		return Config{}, structErrors(err)
	}

	cfg := Config{
		Version: w.Version,
		StatTag: strings.TrimSpace(w.StatTag),
		Layers:  make([]Layer, len(w.Layers)),
	}
	for i, l := range w.Layers {
		cfg.Layers[i] = Layer{
			SQL:             l.Options.SQL,
			CartoCSS:        l.Options.CartoCSS,
			CartoCSSVersion: l.Options.CartoCSSVersion,
			Interactivity:   strings.TrimSpace(l.Options.Interactivity),
		}
	}
	return cfg, nil
}

func structErrors(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return &ValidationError{Messages: []string{err.Error()}}
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds maximum of %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q check", field, fe.Tag()))
		}
	}
	return &ValidationError{Messages: msgs}
}
