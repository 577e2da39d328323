// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package render projects release state into the pinned status message:
// a per-package line with a status glyph, phase indicators, and run links,
// updated in place after every tick that changed the rendering.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relctl/release-controller/internal/client/status"
	"github.com/relctl/release-controller/internal/log"
	"github.com/relctl/release-controller/internal/state"
	"github.com/relctl/release-controller/internal/tree"
)

// Renderer owns the status message for one release run. It is driven
// entirely from the tree runtime's post-tick hook, so all of its state
// access happens on the single scheduler thread.
type Renderer struct {
	client  status.Client
	channel string
	rel     *state.Release
	log     *slog.Logger

	last string
}

// New builds a Renderer posting to channel. The thread coordinates end up
// in rel.Meta.Ephemeral once Start has posted the first message.
func New(client status.Client, channel string, rel *state.Release, logger *slog.Logger) *Renderer {
	return &Renderer{client: client, channel: channel, rel: rel, log: logger}
}

// Start posts the initial status message and pins its coordinates into the
// release's ephemeral meta, where the dispatch leaves pick them up as
// workflow inputs. Failing to post is not fatal: the release proceeds
// without a status thread.
func (r *Renderer) Start(ctx context.Context) {
	if r.channel == "" {
		return
	}
	body := Render(r.rel.Project())
	ts, err := r.client.PostMessage(ctx, r.channel, "", body)
	if err != nil {
		r.log.Warn("status message not posted", log.Attr("channel", r.channel), log.Error(err))
		return
	}
	r.rel.Meta.Ephemeral = &state.Ephemeral{StatusChannel: r.channel, StatusTS: ts}
	r.last = body
}

// Hook returns the post-tick hook: re-render, compare against the last
// emitted body, and update the pinned message only on change. Errors are
// swallowed after logging — the renderer never blocks tree progress.
func (r *Renderer) Hook() tree.Hook {
	return func(ctx context.Context, _ tree.Status) {
		r.Refresh(ctx)
	}
}

// Refresh updates the status message if the rendering changed since the
// last emission.
func (r *Renderer) Refresh(ctx context.Context) {
	eph := r.rel.Meta.Ephemeral
	if eph == nil || eph.StatusTS == "" {
		return
	}
	body := Render(r.rel.Project())
	if body == r.last {
		return
	}
	if err := r.client.UpdateMessage(ctx, eph.StatusChannel, eph.StatusTS, body); err != nil {
		r.log.Warn("status message not updated", log.Attr("channel", eph.StatusChannel), log.Error(err))
		return
	}
	r.last = body
}

// glyph maps a package result to its leading status glyph.
func glyph(s state.PackageSummary) string {
	switch s.Result {
	case state.ResultSuccess:
		return "✅"
	case state.ResultFailed:
		return "❌"
	case state.ResultSkipped:
		return "⏭"
	default:
		return "⏳"
	}
}

// phaseIndicator renders one phase cell, linking to the run when known.
func phaseIndicator(name string, st state.PhaseStatus, url string) string {
	label := fmt.Sprintf("%s %s", name, st)
	if url != "" {
		return fmt.Sprintf("<%s|%s>", url, label)
	}
	return label
}

// Render projects the rollup into the status message body. Output order is
// the rollup's (sorted by package name), keeping successive renderings
// comparable.
func Render(roll state.Rollup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Release %s* (%s) — %d/%d packages done",
		roll.Tag, roll.ReleaseType, roll.Succeeded+roll.Failed, roll.Total)
	if roll.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", roll.Failed)
	}
	b.WriteString("\n")

	for _, p := range roll.Packages {
		fmt.Fprintf(&b, "%s `%s` — %s · %s",
			glyph(p),
			p.Name,
			phaseIndicator("build", p.BuildStatus, p.BuildRunURL),
			phaseIndicator("publish", p.PublishStatus, p.PublishRunURL),
		)
		if p.BlockingReason != "" && p.Result != state.ResultSuccess {
			fmt.Fprintf(&b, " (%s)", p.BlockingReason)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
