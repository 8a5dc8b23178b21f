package scorebot

import (
	"context"
	"testing"
	"time"

	"github.com/leighmacdonald/steamid/v2/steamid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	type tc struct {
		text     string
		match    bool
		expected Event
	}

	troy := Player{Name: "Troy", UserID: 5, SteamID: "STEAM_0:1:111", SID64: steamid.SID64(76561197960265951), Side: SideCT}
	bob := Player{Name: "Bob", UserID: 7, SteamID: "STEAM_0:1:222", SID64: steamid.SID64(76561197960266173), Side: SideTerrorist}
	ts := time.Date(2020, time.October, 19, 21, 37, 16, 0, time.UTC)

	cases := []tc{
		{
			text:     `"Troy<5><STEAM_0:1:111><CT>" killed "Bob<7><STEAM_0:1:222><TERRORIST>" with "ak47"`,
			match:    true,
			expected: KillEvent{Attacker: troy, Victim: bob, Weapon: "ak47"},
		}, {
			text:     `L 10/19/2020 - 21:37:16: "Troy<5><STEAM_1:1:111><CT>" [-1117 2465 -72] killed "Bob<7><STEAM_1:1:222><TERRORIST>" [-1297 2354 -71] with "ak47" (headshot penetrated)`,
			match:    true,
			expected: KillEvent{Timestamp: ts, Attacker: withSteamID(troy, "STEAM_1:1:111"), Victim: withSteamID(bob, "STEAM_1:1:222"), Weapon: "ak47", Headshot: true},
		}, {
			text:  `"Troy<5><STEAM_0:1:111><CT>" killed "Moe<12><BOT><TERRORIST>" with "knife"`,
			match: true,
			expected: KillEvent{
				Attacker: troy,
				Victim:   Player{Name: "Moe", UserID: 12, SteamID: BotSteamID, Side: SideTerrorist},
				Weapon:   "knife",
			},
		}, {
			text:     `L 10/19/2020 - 21:37:16: Game Over: competitive 1092904694 de_dust2 score 16:9 after 36 min`,
			match:    true,
			expected: GameOverEvent{Timestamp: ts, Map: "de_dust2", Score: Score{16, 9}},
		}, {
			text:     `Game Over: casual mg_casualsigma de_inferno score 3:15`,
			match:    true,
			expected: GameOverEvent{Map: "de_inferno", Score: Score{3, 15}},
		}, {
			text:     `L 10/19/2020 - 21:37:16: Team "CT" triggered "SFUI_Notice_CTs_Win" (CT "3") (T "1")`,
			match:    true,
			expected: RoundOverEvent{Timestamp: ts, Side: SideCT, Reason: "SFUI_Notice_CTs_Win", Score: Score{3, 1}},
		}, {
			text:     `Team "TERRORIST" triggered "SFUI_Notice_Target_Bombed" (CT "0") (T "12")`,
			match:    true,
			expected: RoundOverEvent{Side: SideTerrorist, Reason: "SFUI_Notice_Target_Bombed", Score: Score{0, 12}},
		}, {
			text:     `L 10/19/2020 - 21:37:16: "Troy<5><STEAM_0:1:111><CT>" say "gg wp"`,
			match:    true,
			expected: ChatEvent{Timestamp: ts, Sender: troy, Text: "gg wp"},
		}, {
			text:     `"Bob<7><STEAM_0:1:222><TERRORIST>" say_team "rush b" (dead)`,
			match:    true,
			expected: ChatEvent{Sender: bob, Text: "rush b", TeamOnly: true, Dead: true},
		}, {
			text:     `"Bob<7><STEAM_0:1:222><TERRORIST>" say ""`,
			match:    true,
			expected: ChatEvent{Sender: bob},
		}, {
			text:  `L 10/19/2020 - 21:37:16: World triggered "Round_Start"`,
			match: false,
		}, {
			text:  `L 10/19/2020 - 21:37:16: "Troy<5><STEAM_0:1:111><CT>" purchased "ak47"`,
			match: false,
		}, {
			text:  `Game Over`,
			match: false,
		}, {
			text:  ``,
			match: false,
		},
	}

	classifier := New(zap.NewNop())

	for num, testCase := range cases {
		event, found := classifier.Classify(testCase.text)
		require.Equal(t, testCase.match, found, "Test failed: %d", num)

		if !testCase.match {
			require.Nil(t, event)

			continue
		}

		require.EqualValuesf(t, testCase.expected, event, "Test failed: %d", num)
		require.Equal(t, testCase.expected.Type(), event.Type())
	}
}

func withSteamID(player Player, steamID string) Player {
	player.SteamID = steamID

	return player
}

func TestClassifyKillOnlyYieldsKill(t *testing.T) {
	event, found := New(zap.NewNop()).Classify(`"Troy<5><STEAM_0:1:111><CT>" killed "Bob<7><STEAM_0:1:222><TERRORIST>" with "ak47"`)
	require.True(t, found)

	kill, isKill := event.(KillEvent)
	require.True(t, isKill)
	require.Equal(t, "Troy", kill.Attacker.Name)
	require.Equal(t, SideCT, kill.Attacker.Side)
	require.Equal(t, "Bob", kill.Victim.Name)
	require.Equal(t, SideTerrorist, kill.Victim.Side)
	require.Equal(t, "ak47", kill.Weapon)
	require.False(t, kill.Victim.IsBot())
}

func TestParseNoMatch(t *testing.T) {
	_, errParse := New(zap.NewNop()).Parse("Log file started")
	require.ErrorIs(t, errParse, ErrNoMatch)
}

func TestResolveSteamID(t *testing.T) {
	require.Equal(t, steamid.SID64(76561197960265951), resolveSteamID("STEAM_0:1:111"))
	require.Equal(t, steamid.SID64(76561197960265951), resolveSteamID("STEAM_1:1:111"))
	require.Equal(t, steamid.SID64(76561197960265951), resolveSteamID("[U:1:223]"))
	require.Equal(t, steamid.SID64(0), resolveSteamID(BotSteamID))
	require.Equal(t, steamid.SID64(0), resolveSteamID("STEAM_ID_PENDING"))
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	lines := make(chan string, 4)
	out := make(chan Event, 4)

	lines <- `World triggered "Round_Start"`
	lines <- `Team "CT" triggered "SFUI_Notice_CTs_Win" (CT "1") (T "0")`
	lines <- `Game Over: competitive 1092904694 de_dust2 score 16:9 after 36 min`
	close(lines)

	New(zap.NewNop()).Run(ctx, lines, out)
	close(out)

	var types []EventType
	for event := range out {
		types = append(types, event.Type())
	}

	require.Equal(t, []EventType{EvtRoundOver, EvtGameOver}, types)
}
