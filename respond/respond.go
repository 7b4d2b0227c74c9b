// Package respond delivers classification scores to the rest of the system.
//
// A Responder receives the score vector and the category labels after every
// successful inference. The score slice is owned by the caller and is
// overwritten on the next cycle; responders copy what they keep.
package respond

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Responder interface {
	Respond(ctx context.Context, scores []float32, labels []string) error
}

// Func adapts a function to Responder.
type Func func(ctx context.Context, scores []float32, labels []string) error

func (f Func) Respond(ctx context.Context, scores []float32, labels []string) error {
	return f(ctx, scores, labels)
}

// Multi fans a result out to every responder and joins their errors.
func Multi(rs ...Responder) Responder {
	return Func(func(ctx context.Context, scores []float32, labels []string) error {
		var errs []error
		for _, r := range rs {
			if err := r.Respond(ctx, scores, labels); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

type Category struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Result is the serialized form of one classification.
type Result struct {
	ID         string     `json:"id"`
	Time       time.Time  `json:"time"`
	Top        string     `json:"top"`
	TopScore   float32    `json:"top_score"`
	Categories []Category `json:"categories"`
}

// NewResult copies scores into a Result, pairing them with labels by
// position. Categories without a label are named by their index.
func NewResult(scores []float32, labels []string) Result {
	r := Result{
		ID:         uuid.NewString(),
		Time:       time.Now().UTC(),
		Categories: make([]Category, len(scores)),
	}
	for i, s := range scores {
		label := strconv.Itoa(i)
		if i < len(labels) && labels[i] != "" {
			label = labels[i]
		}
		r.Categories[i] = Category{Label: label, Score: s}
		if i == 0 || s > r.TopScore {
			r.Top, r.TopScore = label, s
		}
	}
	return r
}

// LogResponder logs every result at info level.
type LogResponder struct {
	Logger *slog.Logger
}

func (l LogResponder) Respond(ctx context.Context, scores []float32, labels []string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := NewResult(scores, labels)
	attrs := make([]slog.Attr, 0, len(r.Categories)+2)
	attrs = append(attrs, slog.String("top", r.Top), slog.Float64("score", float64(r.TopScore)))
	for _, c := range r.Categories {
		attrs = append(attrs, slog.Float64(c.Label, float64(c.Score)))
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "detection", attrs...)
	return nil
}
