package fs

// Version of mtfs
var Version = "v0.1.0-DEV"
