package version

// Overridden at build time with -ldflags "-X github.com/muk365/whiteboard/internal/version.Version=..."
var Version = "dev"
