// Package control exposes the event bus as newline-delimited JSON on a pair
// of streams.
package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"phone_island/native/internal/bus"
	"phone_island/native/internal/logging"
)

var ErrNotInbound = errors.New("not an inbound event")

const maxLine = 64 * 1024

// Message is one line of the control stream.
type Message struct {
	Event bus.Name        `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Surface reads control requests from a reader and writes outbound events
// to a writer.
type Surface struct {
	bus     *bus.Bus
	schemas map[bus.Name]*jsonschema.Schema
	log     *logrus.Entry

	wmu sync.Mutex
	out io.Writer

	unsubs []func()
}

// New compiles the payload schema of every inbound event.
func New(b *bus.Bus, out io.Writer, log *logrus.Entry) (*Surface, error) {
	if log == nil {
		log = logging.Discard()
	}
	s := &Surface{
		bus:     b,
		schemas: make(map[bus.Name]*jsonschema.Schema),
		out:     out,
		log:     log,
	}
	for _, name := range bus.Names(bus.Inbound) {
		spec, _ := bus.Lookup(name)
		schema, err := compileSchema(name, spec.Payload)
		if err != nil {
			return nil, err
		}
		s.schemas[name] = schema
	}
	return s, nil
}

// Bind writes every outbound event to the output stream.
func (s *Surface) Bind() {
	for _, name := range bus.Names(bus.Outbound) {
		name := name
		s.unsubs = append(s.unsubs, s.bus.Subscribe(name, func(payload any) {
			if err := s.write(name, payload); err != nil {
				s.log.Warnf("write %s: %v", name, err)
			}
		}))
	}
}

func (s *Surface) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

func (s *Surface) write(name bus.Name, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	line, err := json.Marshal(Message{Event: name, Data: data})
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err = s.out.Write(append(line, '\n'))
	return err
}

// Run reads control lines from in until it is exhausted or ctx is done.
// Malformed lines are logged and skipped.
func (s *Surface) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 4096), maxLine)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("read control stream: %w", err)
			}
			s.log.Infof("control stream closed")
			return nil
		case line := <-lines:
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := s.Handle(line); err != nil {
				s.log.Warnf("control: %v", err)
			}
		}
	}
}

// Handle validates and publishes a single control line.
func (s *Surface) Handle(line []byte) error {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	schema, ok := s.schemas[msg.Event]
	if !ok {
		if _, known := bus.Lookup(msg.Event); known {
			return fmt.Errorf("%w: %s", ErrNotInbound, msg.Event)
		}
		return fmt.Errorf("%w: %s", bus.ErrUnknownEvent, msg.Event)
	}

	data := msg.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%s: %w", msg.Event, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s: invalid data: %w", msg.Event, err)
	}

	spec, _ := bus.Lookup(msg.Event)
	payload := reflect.New(reflect.TypeOf(spec.Payload))
	if err := json.Unmarshal(data, payload.Interface()); err != nil {
		return fmt.Errorf("%s: %w", msg.Event, err)
	}
	s.log.Debugf("<<< %s", msg.Event)
	return s.bus.Publish(msg.Event, payload.Elem().Interface())
}

func compileSchema(name bus.Name, payload any) (*jsonschema.Schema, error) {
	doc, err := json.Marshal(schemaFor(reflect.TypeOf(payload)))
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	url := "mem://events/" + string(name) + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// schemaFor derives a JSON schema from a payload type. Struct fields are
// required and no other properties are accepted.
func schemaFor(t reflect.Type) map[string]any {
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": schemaFor(t.Elem())}
	case reflect.Ptr:
		return schemaFor(t.Elem())
	case reflect.Struct:
		props := map[string]any{}
		required := []string{}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			key := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				if tag == "-" {
					continue
				}
				if n, _, _ := strings.Cut(tag, ","); n != "" {
					key = n
				}
			}
			props[key] = schemaFor(f.Type)
			required = append(required, key)
		}
		return map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		}
	}
	return map[string]any{}
}
