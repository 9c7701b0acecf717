// Package config reads and writes the node's binary configuration record:
// its private key, its identifier, and the bootstrap contacts it rejoins
// the overlay through. The record shares the wire codec with network
// messages; there is no second serialization story.
package config

import (
	"io/ioutil"
	"os"

	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"

	"github.com/noisenet/routing/skademlia/peer"
	"github.com/noisenet/routing/skademlia/protobuf"
)

// DefaultFileName is the config file looked for when the host names none.
const DefaultFileName = "dht_config"

// Config is the decoded startup record. PrivateKey and NodeID are
// mandatory; a file missing either aborts startup.
type Config struct {
	PrivateKey []byte
	NodeID     peer.ID
	Contacts   []*protobuf.Contact
}

// Load reads and decodes the config file at path. Absence or malformed
// content is an error; the caller is expected to abort startup on it.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: cannot read %s", path)
	}

	var record protobuf.ConfigFile
	if err := proto.Unmarshal(raw, &record); err != nil {
		return nil, errors.Wrapf(err, "config: %s is malformed", path)
	}

	if len(record.PrivateKey) == 0 {
		return nil, errors.Errorf("config: %s has no private key", path)
	}
	nodeID, err := peer.FromBytes(record.NodeId)
	if err != nil {
		return nil, errors.Wrapf(err, "config: %s has a malformed node id", path)
	}
	if nodeID.IsZero() {
		return nil, errors.Errorf("config: %s has a zero node id", path)
	}

	return &Config{
		PrivateKey: record.PrivateKey,
		NodeID:     nodeID,
		Contacts:   record.Contact,
	}, nil
}

// Save encodes cfg and writes it to path atomically (write-then-rename).
func Save(path string, cfg *Config) error {
	record := &protobuf.ConfigFile{
		PrivateKey: cfg.PrivateKey,
		NodeId:     cfg.NodeID.Bytes(),
		Contact:    cfg.Contacts,
	}
	raw, err := proto.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "config: cannot encode record")
	}

	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, raw, 0600); err != nil {
		return errors.Wrapf(err, "config: cannot write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "config: cannot replace %s", path)
	}
	return nil
}

// OrderBootstrapList reorders contacts so that, for every distinct
// bootstrap IP, a variant on livePort is tried before the recorded
// endpoints: previously-live ports are the likeliest to still answer.
func OrderBootstrapList(contacts []*protobuf.Contact, livePort uint32) []*protobuf.Contact {
	if len(contacts) == 0 {
		return contacts
	}

	seen := make(map[string]struct{}, len(contacts))
	live := make([]*protobuf.Contact, 0, len(contacts))
	for _, c := range contacts {
		if c == nil || c.Endpoint == nil {
			continue
		}
		if _, dup := seen[c.Endpoint.Ip]; dup {
			continue
		}
		seen[c.Endpoint.Ip] = struct{}{}

		cp := *c
		ep := *c.Endpoint
		ep.Port = livePort
		cp.Endpoint = &ep
		live = append(live, &cp)
	}
	return append(live, contacts...)
}
