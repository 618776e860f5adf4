package config

// Version is the build version, overridden at link time with
// -ldflags "-X github.com/ajitpratap0/comet/pkg/config.Version=...".
var Version = "dev"
