// Package backend is an in-process service virtualization backend speaking a
// subset of the mountebank REST API:
//
//	POST   /imposters          create an imposter, 201 with the imposter (incl. port)
//	GET    /imposters          list imposters
//	DELETE /imposters          delete every imposter
//	GET    /imposters/{port}   one imposter including recorded requests
//	DELETE /imposters/{port}   delete one imposter, 200 even if it is gone
//
// Each imposter listens on its own port, chosen by the OS unless the
// definition names one. Stubs are evaluated in order and the first stub whose
// predicates all match answers; without a match the default response, or an
// empty 200, is served. Responses cycle per stub and honour the `wait`,
// `repeat` and `template` behaviors. Template bodies are Go text/templates
// with sprig functions and a `.Request` value.
//
// The backend is served by `stagehand backend` and embedded by `stagehand run`
// when no external backend is configured.
package backend
