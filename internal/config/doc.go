// Package config loads the harness configuration.
//
// Configuration is layered. GetDefaultConfig provides the defaults, an
// optional stagehand.yaml file overrides them, and STAGEHAND_* environment
// variables override the file. Command-line flags are applied last by the
// cmd package.
//
// Example stagehand.yaml:
//
//	ports:
//	  base: 20000
//	  span: 2000
//	health:
//	  timeout: 30s
//	  interval: 100ms
//	backend:
//	  url: http://127.0.0.1:2525
//	teardown:
//	  policy: report
//	runner:
//	  parallel: 4
//	global:
//	  - name: auth-api
//	    type: service
//	    location: process
//	    config:
//	      command: ./bin/auth
//	vars:
//	  region: eu
//
// An empty backend URL starts the embedded backend in process. Resources
// declared under global live in the process-wide World for the whole run.
package config
