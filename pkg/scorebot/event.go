package scorebot

import (
	"time"

	"github.com/leighmacdonald/steamid/v2/steamid"
	"github.com/pkg/errors"
)

type EventType int

// The order matches the order patterns are tried in.
const (
	EvtChat EventType = iota
	EvtGameOver
	EvtRoundOver
	EvtKill
)

func (et EventType) String() string {
	switch et {
	case EvtChat:
		return "chat"
	case EvtGameOver:
		return "game_over"
	case EvtRoundOver:
		return "round_over"
	case EvtKill:
		return "kill"
	default:
		return "unknown"
	}
}

// Event is the closed set of classifier results.
type Event interface {
	Type() EventType
	// When is the log timestamp, zero if the line carried none.
	When() time.Time
}

const logTimestampFormat = "01/02/2006 - 15:04:05"

// parseTimestamp converts the server log timestamp into a time.Time value.
func parseTimestamp(timestamp string) (time.Time, error) {
	parsedTime, errParse := time.Parse(logTimestampFormat, timestamp)
	if errParse != nil {
		return time.Time{}, errors.Wrap(errParse, "Failed to parse timestamp")
	}

	return parsedTime, nil
}

// Side is the team token exactly as the server logs it.
type Side string

const (
	SideCT         Side = "CT"
	SideTerrorist  Side = "TERRORIST"
	SideSpectator  Side = "SPECTATOR"
	SideUnassigned Side = "Unassigned"
)

// BotSteamID is the steam id placeholder the server logs for bots.
const BotSteamID = "BOT"

// Player is one parsed `name<uid><steamid><team>` signature.
type Player struct {
	Name   string
	UserID int
	// SteamID is logged verbatim, BotSteamID for bots.
	SteamID string
	// SID64 is zero when SteamID is a placeholder.
	SID64 steamid.SID64
	Side  Side
}

func (p Player) IsBot() bool {
	return p.SteamID == BotSteamID
}

// Score is a pair of team scores in the order the line lists them.
type Score [2]int

type ChatEvent struct {
	Timestamp time.Time
	Sender    Player
	Text      string
	TeamOnly  bool
	Dead      bool
}

type GameOverEvent struct {
	Timestamp time.Time
	Map       string
	Score     Score
}

type RoundOverEvent struct {
	Timestamp time.Time
	// Side is the winning team token.
	Side Side
	// Reason is the triggered outcome, eg SFUI_Notice_Target_Bombed.
	Reason string
	// Score is CT then T.
	Score Score
}

type KillEvent struct {
	Timestamp time.Time
	Attacker  Player
	Victim    Player
	Weapon    string
	Headshot  bool
}

func (ChatEvent) Type() EventType      { return EvtChat }
func (GameOverEvent) Type() EventType  { return EvtGameOver }
func (RoundOverEvent) Type() EventType { return EvtRoundOver }
func (KillEvent) Type() EventType      { return EvtKill }

func (e ChatEvent) When() time.Time      { return e.Timestamp }
func (e GameOverEvent) When() time.Time  { return e.Timestamp }
func (e RoundOverEvent) When() time.Time { return e.Timestamp }
func (e KillEvent) When() time.Time      { return e.Timestamp }
