package clip

// headless is a no-op backend for environments without a display server
// (headless Linux servers, containers). It never reports content and
// silently discards writes.
type headless struct{}

func (headless) Name() string          { return "headless (no-op)" }
func (headless) Read() (string, error) { return "", nil }
func (headless) Write(_ string) error  { return nil }
func (headless) Close()                {}
