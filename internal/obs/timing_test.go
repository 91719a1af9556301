package obs

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
)

func TestTimeLogsOpAndError(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	defer log.SetFlags(log.Flags())
	log.SetFlags(0)

	ctx := WithRequestID(context.Background(), "r1")
	err := errors.New("boom")
	Time(ctx, "optimize")(&err)
	Time(ctx, "decode")(nil)

	out := buf.String()
	if !strings.Contains(out, "req_id=r1 op=optimize") || !strings.Contains(out, "err=boom") {
		t.Fatalf("log = %q", out)
	}
	if !strings.Contains(out, "op=decode dur=") {
		t.Fatalf("log = %q", out)
	}
}
