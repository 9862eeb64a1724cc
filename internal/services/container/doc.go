// Package container implements the "container" service kind: an image run
// through the docker CLI with one container port published on the allocated
// host port.
//
// Configuration (the `config` block of a declaration):
//
//	image: ghcr.io/acme/payments:1.4
//	containerPort: 8080
//	env: {DB_URL: "{{ db_url }}"}
//	args: ["--verbose"]
//	volumes: ["~/fixtures:/fixtures:ro"]
//	health: {type: http, path: /healthz}
//	pull: missing
//
// The image is pulled on Start unless it exists locally (pull: missing, the
// default), always (pull: always) or never (pull: never). Containers are named
// after the service and port so concurrent Worlds never clash, and are removed
// on Stop.
package container
