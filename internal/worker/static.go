package worker

import (
	"context"
	"net/http"
	"os"
	"time"
)

// osExit is swapped in tests.
var osExit = os.Exit

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>recall</title></head>
<body>
<h1>recall worker</h1>
<p>The dashboard UI connects to <code>/stream</code> for live events.</p>
</body>
</html>`

// serveIndex serves the minimal built-in landing page.
func serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}
