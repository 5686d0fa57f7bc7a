package template

import (
	"errors"
	"fmt"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Known configuration keys
const (
	KeyClusterName         = "cluster_name"
	KeySeedProvider        = "seed_provider"
	KeyListenAddress       = "listen_address"
	KeyBroadcastRPCAddress = "broadcast_rpc_address"
	KeyRPCAddress          = "rpc_address"
	KeyInitialToken        = "initial_token"
	KeyNumTokens           = "num_tokens"
	KeyPartitioner         = "partitioner"
	KeyEndpointSnitch      = "endpoint_snitch"
)

// RPCBindAll is the rpc address every node listens on
const RPCBindAll = "0.0.0.0"

// ErrNoSeedProvider is returned when the document has no seed list to patch
var ErrNoSeedProvider = errors.New("configuration has no seed provider parameters")

// ErrEmptyDocument is returned for a null configuration document
var ErrEmptyDocument = errors.New("configuration document is empty")

// Document is a parsed configuration document. Only the known keys are
// interpreted; everything else is carried through untouched.
type Document map[string]interface{}

// ParseDocument parses a YAML configuration document
func ParseDocument(data []byte) (Document, error) {
	doc := Document{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if doc == nil {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// Marshal renders the document as YAML
func (d Document) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(map[string]interface{}(d))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return data, nil
}

// Clone returns a deep copy
func (d Document) Clone() (Document, error) {
	data, err := d.Marshal()
	if err != nil {
		return nil, err
	}
	return ParseDocument(data)
}

func (d Document) SetClusterName(name string) {
	d[KeyClusterName] = name
}

// seedParameters returns seed_provider[0].parameters[0]
func (d Document) seedParameters() (map[string]interface{}, error) {
	providers, ok := d[KeySeedProvider].([]interface{})
	if !ok || len(providers) == 0 {
		return nil, ErrNoSeedProvider
	}
	provider, ok := providers[0].(map[string]interface{})
	if !ok {
		return nil, ErrNoSeedProvider
	}
	params, ok := provider["parameters"].([]interface{})
	if !ok || len(params) == 0 {
		return nil, ErrNoSeedProvider
	}
	first, ok := params[0].(map[string]interface{})
	if !ok {
		return nil, ErrNoSeedProvider
	}
	return first, nil
}

// SetSeeds replaces the seed list
func (d Document) SetSeeds(addrs []string) error {
	params, err := d.seedParameters()
	if err != nil {
		return err
	}
	params["seeds"] = strings.Join(addrs, ", ")
	return nil
}

// Seeds returns the seed list
func (d Document) Seeds() ([]string, error) {
	params, err := d.seedParameters()
	if err != nil {
		return nil, err
	}
	raw, _ := params["seeds"].(string)
	var seeds []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			seeds = append(seeds, s)
		}
	}
	return seeds, nil
}

// SetAddresses points the listen and broadcast addresses at addr and binds
// rpc on every interface
func (d Document) SetAddresses(addr string) {
	d[KeyRPCAddress] = RPCBindAll
	d[KeyBroadcastRPCAddress] = addr
	d[KeyListenAddress] = addr
}

// StripToken removes the node-specific ring token
func (d Document) StripToken() {
	delete(d, KeyInitialToken)
}

// Tuning holds the per-node ring settings
type Tuning struct {
	NumTokens      int
	Partitioner    string
	EndpointSnitch string
}

// Overrides returns the non-empty tuning values as a document
func (t Tuning) Overrides() Document {
	doc := Document{}
	if t.NumTokens > 0 {
		doc[KeyNumTokens] = t.NumTokens
	}
	if t.Partitioner != "" {
		doc[KeyPartitioner] = t.Partitioner
	}
	if t.EndpointSnitch != "" {
		doc[KeyEndpointSnitch] = t.EndpointSnitch
	}
	return doc
}

// SetTuning merges the non-empty tuning values over the document
func (d *Document) SetTuning(t Tuning) error {
	return d.Merge(t.Overrides())
}

// Merge applies overrides on top of the document
func (d *Document) Merge(overrides Document) error {
	if err := mergo.Merge(d, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge configuration overrides: %w", err)
	}
	return nil
}
