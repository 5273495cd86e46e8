package guardcommon

// ServerVersion is the release version of the enforcement service.
const ServerVersion = "0.1.0"

// ApiVersion is the version of the HTTP API surface.
const ApiVersion = "v1"
