// Package scorebot classifies dedicated server log lines into match events.
package scorebot

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/leighmacdonald/steamid/v2/steamid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNoMatch        = errors.New("no match found")
	errInvalidPlayer  = errors.New("invalid player signature")
	errInvalidScore   = errors.New("invalid score")
	rxTimestamp       = regexp.MustCompile(`^L (\d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}):\s+`)
	rxPlayerSignature = regexp.MustCompile(`^(.*)<(-?\d+)><([^>]*)><([^>]*)>$`)
	rxLegacySteamID   = regexp.MustCompile(`^STEAM_\d:([01]):(\d+)$`)
)

const (
	teamChatCommand  = "say_team"
	deadChatSuffix   = "(dead)"
	headshotModifier = "headshot"
)

// Classifier matches lines against an ordered pattern table and returns the
// first hit. It holds no state between lines.
type Classifier struct {
	rx     []*regexp.Regexp
	logger *zap.Logger
}

func New(logger *zap.Logger) *Classifier {
	const sig = `(.+?<-?\d+><[^>]*><[^>]*>)`

	return &Classifier{
		logger: logger.Named("scorebot"),
		// the index must match the index of the EventType const values
		rx: []*regexp.Regexp{
			regexp.MustCompile(`^"` + sig + `" (say|say_team) "(.*)"(?: (\(dead\)))?$`),
			regexp.MustCompile(`Game Over:.*?\s(\S+)\s+score\s+(\d{1,3}):(\d{1,3})`),
			regexp.MustCompile(`Team "([^"]+)" triggered "([^"]+)" \(CT "(\d{1,3})"\) \(T "(\d{1,3})"\)`),
			regexp.MustCompile(`"` + sig + `"(?: \[[^\]]*\])? killed "` + sig + `"(?: \[[^\]]*\])? with "([^"]+)"(?: \(([^)]*)\))?`),
		},
	}
}

// Classify returns the event for line, or false when no pattern matches.
// Unmatched lines are normal; most of the log is irrelevant to match state.
func (c *Classifier) Classify(line string) (Event, bool) {
	event, errParse := c.Parse(line)
	if errParse != nil {
		return nil, false
	}

	return event, true
}

// Parse is Classify returning ErrNoMatch for unmatched lines.
func (c *Classifier) Parse(line string) (Event, error) {
	line = strings.TrimRight(line, "\r\n")
	timestamp, body := c.splitTimestamp(line)

	for idx, rxMatcher := range c.rx {
		match := rxMatcher.FindStringSubmatch(body)
		if match == nil {
			continue
		}

		event, errEvent := c.build(EventType(idx), match, body)
		if errEvent != nil {
			c.logger.Debug("Discarded partial match", zap.Stringer("type", EventType(idx)), zap.Error(errEvent))

			continue
		}

		return stamp(event, timestamp), nil
	}

	return nil, ErrNoMatch
}

func (c *Classifier) build(eventType EventType, match []string, body string) (Event, error) {
	switch eventType {
	case EvtChat:
		sender, errSender := parsePlayer(match[1])
		if errSender != nil {
			return nil, errSender
		}

		return ChatEvent{
			Sender:   sender,
			Text:     match[3],
			TeamOnly: match[2] == teamChatCommand,
			Dead:     match[4] == deadChatSuffix,
		}, nil
	case EvtGameOver:
		score, errScore := parseScore(match[2], match[3])
		if errScore != nil {
			return nil, errScore
		}

		return GameOverEvent{Map: match[1], Score: score}, nil
	case EvtRoundOver:
		score, errScore := parseScore(match[3], match[4])
		if errScore != nil {
			return nil, errScore
		}

		return RoundOverEvent{Side: Side(match[1]), Reason: match[2], Score: score}, nil
	case EvtKill:
		attacker, errAttacker := parsePlayer(match[1])
		if errAttacker != nil {
			return nil, errAttacker
		}

		victim, errVictim := parsePlayer(match[2])
		if errVictim != nil {
			return nil, errVictim
		}

		return KillEvent{
			Attacker: attacker,
			Victim:   victim,
			Weapon:   match[3],
			Headshot: strings.Contains(match[4], headshotModifier),
		}, nil
	default:
		return nil, errors.Wrapf(ErrNoMatch, "unhandled event type %d for %q", eventType, body)
	}
}

func (c *Classifier) splitTimestamp(line string) (timestamp string, body string) {
	match := rxTimestamp.FindStringSubmatch(line)
	if match == nil {
		return "", line
	}

	return match[1], line[len(match[0]):]
}

// Run classifies every line received until lines is closed or ctx is done.
// Lines that match nothing are dropped.
func (c *Classifier) Run(ctx context.Context, lines <-chan string, out chan<- Event) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}

			event, matched := c.Classify(line)
			if !matched {
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func stamp(event Event, timestamp string) Event {
	if timestamp == "" {
		return event
	}

	parsed, errParse := parseTimestamp(timestamp)
	if errParse != nil {
		return event
	}

	switch evt := event.(type) {
	case ChatEvent:
		evt.Timestamp = parsed

		return evt
	case GameOverEvent:
		evt.Timestamp = parsed

		return evt
	case RoundOverEvent:
		evt.Timestamp = parsed

		return evt
	case KillEvent:
		evt.Timestamp = parsed

		return evt
	default:
		return event
	}
}

// parsePlayer splits a `name<uid><steamid><team>` signature.
func parsePlayer(signature string) (Player, error) {
	match := rxPlayerSignature.FindStringSubmatch(signature)
	if match == nil {
		return Player{}, errors.Wrapf(errInvalidPlayer, "%q", signature)
	}

	userID, errUserID := strconv.Atoi(match[2])
	if errUserID != nil {
		return Player{}, errors.Wrapf(errInvalidPlayer, "user id %q", match[2])
	}

	return Player{
		Name:    match[1],
		UserID:  userID,
		SteamID: match[3],
		SID64:   resolveSteamID(match[3]),
		Side:    Side(match[4]),
	}, nil
}

// resolveSteamID converts a logged steam id into a SID64. Both STEAM_X:Y:Z
// and [U:1:N] forms are accepted, the universe digit of the former is
// ignored. Placeholders such as BOT resolve to zero.
func resolveSteamID(raw string) steamid.SID64 {
	if strings.HasPrefix(raw, "[U:") {
		return steamid.SID3ToSID64(steamid.SID3(raw))
	}

	match := rxLegacySteamID.FindStringSubmatch(raw)
	if match == nil {
		return 0
	}

	authServer, errAuth := strconv.ParseUint(match[1], 10, 32)
	if errAuth != nil {
		return 0
	}

	accountNumber, errAccount := strconv.ParseUint(match[2], 10, 32)
	if errAccount != nil {
		return 0
	}

	return steamid.SID3ToSID64(steamid.SID3("[U:1:" + strconv.FormatUint(accountNumber*2+authServer, 10) + "]"))
}

func parseScore(first string, second string) (Score, error) {
	firstValue, errFirst := strconv.Atoi(first)
	if errFirst != nil {
		return Score{}, errors.Wrapf(errInvalidScore, "%q", first)
	}

	secondValue, errSecond := strconv.Atoi(second)
	if errSecond != nil {
		return Score{}, errors.Wrapf(errInvalidScore, "%q", second)
	}

	return Score{firstValue, secondValue}, nil
}
