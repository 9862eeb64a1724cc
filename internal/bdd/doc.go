// Package bdd plugs the orchestrator into godog scenario hooks.
//
// Before each scenario the declared environment is provisioned and the Ready
// World is stored in the step context; after the scenario the World is torn
// down, whatever the steps did. Step definitions fetch the World with
// WorldFrom.
//
// Which environment a scenario gets is decided by a Resolver. TagResolver
// maps `@env:<name>` tags to scenario files loaded by the environment
// package. The harness never parses steps.
package bdd
