package helpers

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	e1 := fmt.Errorf("first")
	cases := []struct {
		name   string
		input  []error
		expect string
	}{
		{"empty", nil, ""},
		{"all-nil", []error{nil, nil}, ""},
		{"single", []error{nil, e1}, "first"},
		{"many", []error{e1, fmt.Errorf("second 100%%")}, "first\nsecond 100%"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := FoldErrors(c.input)
			if c.expect == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, c.expect)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	b := Backoff{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	b.Failure()
	d := b.DelayBefore()
	assert.True(t, d > 0 && d <= 20*time.Millisecond, "delay=%s", d)
	b.Failure()
	b.Failure()
	b.Failure()
	d = b.DelayBefore()
	assert.True(t, d > 0 && d <= 40*time.Millisecond, "delay=%s", d)
	d = b.DelayAfter(true)
	assert.True(t, d <= 10*time.Millisecond, "delay=%s", d)
	time.Sleep(11 * time.Millisecond)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
}

func TestIntSecondDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 5*time.Second, IntSecondDefault(0, 5*time.Second))
	assert.Equal(t, 3*time.Second, IntSecondDefault(3, 5*time.Second))
	assert.Equal(t, 250*time.Millisecond, IntMillisecondDefault(250, time.Second))
}
