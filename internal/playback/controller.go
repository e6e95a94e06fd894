// Package playback drives one ad, or the active member of a pod, through its
// lifecycle and keeps the host player informed.
package playback

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_vastplayer/internal/pod"
)

// AdProps describes a starting ad to the Controller
type AdProps struct {
	Name          string
	DurationMs    int64
	Skippable     bool
	SkipOffset    float64
	SkipIsPercent bool
	Index         int
	Length        int
	Interactive   bool
}

// Controller is the host player. Calls are made without any engine lock
// held, so implementations may call back into the engine.
type Controller interface {
	NotifyPodStarted(id string, length int)
	NotifyPodEnded(id string)
	NotifyLinearAdStarted(id string, props AdProps)
	NotifyLinearAdEnded(id string)
	NotifyNonLinearAdStarted(id string, props AdProps)
	NotifyNonLinearAdEnded(id string)
	ForceAdToPlay(managerName string, member *pod.Member, adType pod.Type, streams []string)
	ShowSkipButton(allowed bool, offset float64, isPercent bool)
	RaiseAdError(message string)
}

// LogController is a Controller that only logs. It serves headless hosts
// such as the HTTP server.
type LogController struct {
	logger zerolog.Logger
}

// NewLogController creates a logging controller
func NewLogController() *LogController {
	return &LogController{logger: log.With().Str("component", "controller").Logger()}
}

func (c *LogController) NotifyPodStarted(id string, length int) {
	c.logger.Info().Str("pod_id", id).Int("length", length).Msg("Pod started")
}

func (c *LogController) NotifyPodEnded(id string) {
	c.logger.Info().Str("pod_id", id).Msg("Pod ended")
}

func (c *LogController) NotifyLinearAdStarted(id string, props AdProps) {
	c.logger.Info().
		Str("ad_id", id).
		Str("name", props.Name).
		Int64("duration_ms", props.DurationMs).
		Bool("skippable", props.Skippable).
		Int("index", props.Index).
		Int("length", props.Length).
		Msg("Linear ad started")
}

func (c *LogController) NotifyLinearAdEnded(id string) {
	c.logger.Info().Str("ad_id", id).Msg("Linear ad ended")
}

func (c *LogController) NotifyNonLinearAdStarted(id string, props AdProps) {
	c.logger.Info().Str("ad_id", id).Str("name", props.Name).Int("index", props.Index).Msg("Nonlinear ad started")
}

func (c *LogController) NotifyNonLinearAdEnded(id string) {
	c.logger.Info().Str("ad_id", id).Msg("Nonlinear ad ended")
}

func (c *LogController) ForceAdToPlay(managerName string, member *pod.Member, adType pod.Type, streams []string) {
	c.logger.Info().
		Str("manager", managerName).
		Str("ad_id", member.ID()).
		Str("type", adType.String()).
		Strs("streams", streams).
		Msg("Forcing ad to play")
}

func (c *LogController) ShowSkipButton(allowed bool, offset float64, isPercent bool) {
	c.logger.Debug().Bool("allowed", allowed).Float64("offset", offset).Bool("percent", isPercent).Msg("Skip button")
}

func (c *LogController) RaiseAdError(message string) {
	c.logger.Warn().Str("error", message).Msg("Ad error")
}
