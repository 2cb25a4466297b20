package engine

// engine.go — helpers compartidos por los componentes del pipeline:
// backoff exponencial con jitter y esperas que respetan el contexto.

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 60 * time.Second
)

// Backoff calcula esperas exponenciales (base × 2^n) acotadas a Max, con jitter.
// No es seguro para uso concurrente: cada loop tiene el suyo.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
	// jitter recibe la espera nominal y devuelve la espera final.
	jitter func(time.Duration) time.Duration
}

// NewBackoff crea un Backoff con "equal jitter": la espera cae en [d/2, d].
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max < base {
		max = defaultMaxDelay
		if max < base {
			max = base
		}
	}
	return &Backoff{Base: base, Max: max, jitter: equalJitter}
}

// WithJitter reemplaza la función de jitter. Usado en tests para esperas deterministas.
func (b *Backoff) WithJitter(fn func(time.Duration) time.Duration) *Backoff {
	b.jitter = fn
	return b
}

// Delay devuelve la espera nominal (sin jitter) para el intento n (0-based).
func (b *Backoff) Delay(n int) time.Duration {
	if n < 0 {
		return b.Base
	}
	if n > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<n)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Next devuelve la próxima espera y avanza el contador de intentos.
func (b *Backoff) Next() time.Duration {
	d := b.Delay(b.attempt)
	b.attempt++
	if b.jitter != nil {
		d = b.jitter(d)
	}
	return d
}

// Attempt devuelve cuántas esperas se pidieron desde el último Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset vuelve al delay base. Se llama después de un ciclo exitoso.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func equalJitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

// Sleep espera d o hasta que ctx se cancele. Devuelve ctx.Err() si se canceló.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TruncateStr trunca un string a maxLen caracteres añadiendo "..." si es necesario.
func TruncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
