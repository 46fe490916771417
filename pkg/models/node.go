// Package models defines the workflow graph, execution and agent domain models.
package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NodeKind selects the handler that runs a node.
type NodeKind string

const (
	KindAgentTask          NodeKind = "agent-task"
	KindWebhookTrigger     NodeKind = "webhook-trigger"
	KindHTTPCall           NodeKind = "http-call"
	KindDBQuery            NodeKind = "db-query"
	KindEmailSend          NodeKind = "email-send"
	KindExternalPortalSync NodeKind = "external-portal-sync"
	KindLeadScoring        NodeKind = "lead-scoring"
	KindClientMessage      NodeKind = "client-message"
	KindCustom             NodeKind = "custom"
)

// Kinds lists every supported node kind.
var Kinds = []NodeKind{
	KindAgentTask,
	KindWebhookTrigger,
	KindHTTPCall,
	KindDBQuery,
	KindEmailSend,
	KindExternalPortalSync,
	KindLeadScoring,
	KindClientMessage,
	KindCustom,
}

func (k NodeKind) IsValid() bool {
	for _, kind := range Kinds {
		if kind == k {
			return true
		}
	}

	return false
}

// IsTrigger reports whether nodes of this kind start an execution chain.
func (k NodeKind) IsTrigger() bool {
	return k == KindWebhookTrigger
}

// AgentRole tags an agent-task node with the kind of agent that services it.
type AgentRole string

const (
	RoleManager     AgentRole = "manager"
	RoleCoordinator AgentRole = "coordinator"
	RoleSpecialist  AgentRole = "specialist"
	RoleNotifier    AgentRole = "notifier"
	RoleCustom      AgentRole = "custom"
)

// NodeConfig is the typed configuration of one node kind.
type NodeConfig interface {
	Kind() NodeKind
}

type AgentTaskConfig struct {
	Role         AgentRole `json:"role"                   validate:"required,oneof=manager coordinator specialist notifier custom"`
	Task         string    `json:"task"                   validate:"required"`
	Instructions string    `json:"instructions,omitempty"`
}

func (*AgentTaskConfig) Kind() NodeKind { return KindAgentTask }

type WebhookTriggerConfig struct {
	Path   string `json:"path,omitempty"`
	Method string `json:"method,omitempty" validate:"omitempty,oneof=GET POST PUT PATCH"`
}

func (*WebhookTriggerConfig) Kind() NodeKind { return KindWebhookTrigger }

type HTTPCallConfig struct {
	URL     string            `json:"url"               validate:"required"`
	Method  string            `json:"method,omitempty"  validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (*HTTPCallConfig) Kind() NodeKind { return KindHTTPCall }

type DBQueryConfig struct {
	Query string `json:"query"            validate:"required"`
	// Params are rendered against the inbound data and bound positionally.
	Params []string `json:"params,omitempty"`
}

func (*DBQueryConfig) Kind() NodeKind { return KindDBQuery }

type EmailSendConfig struct {
	To      string `json:"to"      validate:"required"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}

func (*EmailSendConfig) Kind() NodeKind { return KindEmailSend }

type PortalSyncConfig struct {
	Portal   string            `json:"portal"            validate:"required"`
	Endpoint string            `json:"endpoint"          validate:"required,url"`
	Fields   []string          `json:"fields,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

func (*PortalSyncConfig) Kind() NodeKind { return KindExternalPortalSync }

// ScoringRule adds Weight to the score when the guard holds on the lead.
type ScoringRule struct {
	Field    string        `json:"field"    validate:"required"`
	Operator GuardOperator `json:"operator" validate:"required"`
	Value    any           `json:"value,omitempty"`
	Weight   float64       `json:"weight"`
}

type LeadScoringConfig struct {
	Rules     []ScoringRule  `json:"rules"            validate:"required,min=1,dive"`
	Threshold float64        `json:"threshold"`
	Schema    map[string]any `json:"schema,omitempty"`
}

func (*LeadScoringConfig) Kind() NodeKind { return KindLeadScoring }

type ClientMessageConfig struct {
	Channel   string `json:"channel"   validate:"required,oneof=sms email whatsapp chat"`
	Recipient string `json:"recipient" validate:"required"`
	Message   string `json:"message"   validate:"required"`
}

func (*ClientMessageConfig) Kind() NodeKind { return KindClientMessage }

type CustomConfig struct {
	Handler string         `json:"handler"          validate:"required"`
	Params  map[string]any `json:"params,omitempty"`
}

func (*CustomConfig) Kind() NodeKind { return KindCustom }

// NewNodeConfig returns an empty configuration for kind.
func NewNodeConfig(kind NodeKind) (NodeConfig, error) {
	switch kind {
	case KindAgentTask:
		return &AgentTaskConfig{}, nil
	case KindWebhookTrigger:
		return &WebhookTriggerConfig{}, nil
	case KindHTTPCall:
		return &HTTPCallConfig{}, nil
	case KindDBQuery:
		return &DBQueryConfig{}, nil
	case KindEmailSend:
		return &EmailSendConfig{}, nil
	case KindExternalPortalSync:
		return &PortalSyncConfig{}, nil
	case KindLeadScoring:
		return &LeadScoringConfig{}, nil
	case KindClientMessage:
		return &ClientMessageConfig{}, nil
	case KindCustom:
		return &CustomConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeKind, kind)
	}
}

// Node is a unit of work in a workflow graph.
type Node struct {
	ID        string   `json:"id"         validate:"required"`
	Name      string   `json:"name"`
	Kind      NodeKind `json:"kind"       validate:"required"`
	Enabled   bool     `json:"enabled"`
	PositionX int      `json:"position_x"`
	PositionY int      `json:"position_y"`

	Config NodeConfig `json:"-"`
	// Extra keeps configuration keys the kind does not know about.
	Extra map[string]any `json:"-"`
}

type nodeWire struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      NodeKind        `json:"kind"`
	Enabled   bool            `json:"enabled"`
	PositionX int             `json:"position_x"`
	PositionY int             `json:"position_y"`
	Config    json.RawMessage `json:"config,omitempty"`
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var wire nodeWire

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return err
	}

	n.ID = wire.ID
	n.Name = wire.Name
	n.Kind = wire.Kind
	n.Enabled = wire.Enabled
	n.PositionX = wire.PositionX
	n.PositionY = wire.PositionY
	n.Config = nil
	n.Extra = nil

	// Unknown kinds are kept as raw configuration so graph validation can report them.
	config, err := NewNodeConfig(wire.Kind)
	if err != nil {
		config = nil
	}

	if len(wire.Config) == 0 || string(wire.Config) == "null" {
		n.Config = config

		return nil
	}

	var raw map[string]any

	err = json.Unmarshal(wire.Config, &raw)
	if err != nil {
		return fmt.Errorf("node %s: config must be an object: %w", wire.ID, err)
	}

	if config != nil {
		err = json.Unmarshal(wire.Config, config)
		if err != nil {
			return fmt.Errorf("node %s: invalid %s config: %w", wire.ID, wire.Kind, err)
		}

		for _, key := range knownKeys(config) {
			delete(raw, key)
		}
	}

	n.Config = config

	if len(raw) > 0 {
		n.Extra = raw
	}

	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	config := make(map[string]any, len(n.Extra))

	for k, v := range n.Extra {
		config[k] = v
	}

	if n.Config != nil {
		typed, err := json.Marshal(n.Config)
		if err != nil {
			return nil, err
		}

		var fields map[string]any

		err = json.Unmarshal(typed, &fields)
		if err != nil {
			return nil, err
		}

		for k, v := range fields {
			config[k] = v
		}
	}

	wire := struct {
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Kind      NodeKind       `json:"kind"`
		Enabled   bool           `json:"enabled"`
		PositionX int            `json:"position_x"`
		PositionY int            `json:"position_y"`
		Config    map[string]any `json:"config"`
	}{n.ID, n.Name, n.Kind, n.Enabled, n.PositionX, n.PositionY, config}

	return json.Marshal(wire)
}

// ValidateConfig checks the typed configuration against its struct tags.
func (n *Node) ValidateConfig(validate *validator.Validate) error {
	if n.Config == nil {
		config, err := NewNodeConfig(n.Kind)
		if err != nil {
			return err
		}

		n.Config = config
	}

	if n.Config.Kind() != n.Kind {
		return fmt.Errorf("%w: node %s has %s config for kind %s", ErrConfigKindMismatch, n.ID, n.Config.Kind(), n.Kind)
	}

	err := validate.Struct(n.Config)
	if err != nil {
		return fmt.Errorf("node %s: invalid %s config: %w", n.ID, n.Kind, err)
	}

	return nil
}

// AgentRole returns the role of an agent-task node, or "" for other kinds.
func (n *Node) AgentRole() AgentRole {
	if cfg, ok := n.Config.(*AgentTaskConfig); ok {
		return cfg.Role
	}

	return ""
}

func knownKeys(config NodeConfig) []string {
	t := reflect.TypeOf(config)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	keys := make([]string, 0, t.NumField())

	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		keys = append(keys, name)
	}

	return keys
}
