// Package config defines the configuration of a walkie peer and of the relay
// server.
//
// Regardless of how walkie is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. Walkie also
// relies on a data directory, defined by Config.DataDir, where it looks for:
//
//  walkie.toml // (optional) configuration file, .yaml and .json also work
//  cert.pem    // (optional) an x509 certificate for the relay server
//  relay_db/   // the Badger database of a relay using the badger store
package config
