// Package environment defines environment declarations and the scenario files
// that carry them.
//
// A declaration names one resource a scenario needs: a service built by a
// catalog kind, or an imposter registered from a definition file or an inline
// definition. Scenario files are YAML; a directory is walked recursively and
// every .yaml or .yml file in it is loaded, except below "imposters"
// subdirectories, which hold definition files. Watcher reloads them when they
// change on disk.
//
// Validation happens before anything is provisioned and reports every problem
// as an *api.ConfigurationError, joined together when there are several.
package environment
