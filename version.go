package chatrelay

// Version is overridden at build time with -ldflags "-X github.com/a-h/chatrelay.Version=...".
var Version = "dev"
