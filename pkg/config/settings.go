package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the settings file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// ValidationError reports the first offending field of a settings document.
// Field uses the dotted YAML path, e.g. "google_vertex_ai.project".
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Load reads, decodes and validates the settings document at path.
// An empty path means DefaultConfigPath.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s. Please copy %s to %s and fill in your values",
				ErrConfigNotFound, path, TemplateConfigPath, DefaultConfigPath)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	settings, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return settings, nil
}

// LoadFromBytes decodes a settings document over the defaults and validates the result.
func LoadFromBytes(data []byte) (*Settings, error) {
	settings := Default()

	if len(bytes.TrimSpace(data)) > 0 {
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, &ValidationError{Field: documentField, Reason: err.Error()}
		}
		if err := checkNode(&root, reflect.TypeOf(settings), ""); err != nil {
			return nil, err
		}
		// A comment-only document leaves root empty.
		if root.Kind != 0 {
			if err := root.Decode(&settings); err != nil {
				return nil, &ValidationError{Field: documentField, Reason: decodeReason(err)}
			}
		}
	}

	if settings.LLM.OllamaHost == "" {
		settings.LLM.OllamaHost = DefaultOllamaHost
	}
	if settings.Crew.Model == "" {
		settings.Crew.Model = settings.defaultCrewModel()
	}

	if err := Validate(&settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

const documentField = "document"

// checkNode walks the decoded document against the Settings layout so that unknown
// keys and badly typed values are reported with their dotted path.
func checkNode(n *yaml.Node, t reflect.Type, path string) error {
	switch n.Kind {
	case 0:
		return nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil
		}
		return checkNode(n.Content[0], t, path)
	case yaml.AliasNode:
		return checkNode(n.Alias, t, path)
	}

	if t.Kind() != reflect.Struct {
		if err := n.Decode(reflect.New(t).Interface()); err != nil {
			return &ValidationError{Field: path, Reason: decodeReason(err)}
		}
		return nil
	}

	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null" {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		field := path
		if field == "" {
			field = documentField
		}
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be a mapping, got %s", n.ShortTag())}
	}

	fields := yamlFields(t)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		child := key
		if path != "" {
			child = path + "." + key
		}
		f, ok := fields[key]
		if !ok {
			return &ValidationError{Field: child, Reason: "is not a known setting"}
		}
		if err := checkNode(n.Content[i+1], f.Type, child); err != nil {
			return err
		}
	}
	return nil
}

// yamlFields maps yaml key names to the exported fields of struct type t.
func yamlFields(t reflect.Type) map[string]reflect.StructField {
	fields := make(map[string]reflect.StructField, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields[name] = f
	}
	return fields
}

// decodeReason drops the "yaml: unmarshal errors:" preamble from type errors.
func decodeReason(err error) string {
	var terr *yaml.TypeError
	if errors.As(err, &terr) && len(terr.Errors) > 0 {
		return strings.TrimSpace(terr.Errors[0])
	}
	return err.Error()
}

// settingsValidator is built once; validator.Validate caches struct metadata and is safe for concurrent use.
var settingsValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks settings and returns a *ValidationError naming the first bad field.
func Validate(s *Settings) error {
	err := settingsValidator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	fe := verrs[0]
	return &ValidationError{
		Field:  fieldPath(fe.Namespace()),
		Reason: describe(fe),
	}
}

// ValidateAddr checks a host:port listen address supplied outside the settings
// document, such as a command-line flag. field names the source in the error.
func ValidateAddr(field, addr string) error {
	err := settingsValidator.Var(addr, "required,hostname_port")
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("failed to validate %s: %w", field, err)
	}
	return &ValidationError{Field: field, Reason: describe(verrs[0])}
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_unless":
		return "is required unless llm.provider is google"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("must satisfy %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("must be a URL, got %q", fmt.Sprint(fe.Value()))
	case "hostname_port":
		return fmt.Sprintf("must be host:port, got %q", fmt.Sprint(fe.Value()))
	case "dir":
		return fmt.Sprintf("directory %q does not exist", fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// APIKeyEnvVar returns the environment variable consulted for the provider's key.
func APIKeyEnvVar(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGoogle:
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}

// ResolveAPIKey returns the configured key for the active provider, falling back to its env var.
// The google provider may legitimately return "" and use application default credentials on Vertex AI.
func (s *Settings) ResolveAPIKey() string {
	if s.LLM.APIKey != "" {
		return s.LLM.APIKey
	}
	if env := APIKeyEnvVar(s.LLM.Provider); env != "" {
		return os.Getenv(env)
	}
	return ""
}

// ResolveOllamaHost returns OLLAMA_HOST if set, else the configured host.
func (s *Settings) ResolveOllamaHost() string {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		return host
	}
	return s.LLM.OllamaHost
}
