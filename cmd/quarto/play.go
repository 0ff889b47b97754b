package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"quarto/internal/client"
	"quarto/internal/config"
	"quarto/internal/quarto"
)

var flagServerURL string

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play in the terminal",
	Long: `Connect to a room server and play from the terminal.

Commands at the prompt:
  create           - Open a new room and print its code
  join <code>      - Join a room by code
  resume           - Pick the previous game back up
  select <piece>   - Hand the opponent a piece (by number)
  place <row> <col>- Place the piece handed to you (0-3)
  board            - Redraw the board
  pieces           - List the remaining pieces
  leave            - Leave the room and forget the session
  quit             - Exit (the session is kept for resume)`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&flagServerURL, "server", "http://localhost:8080", "Room server base URL")
}

func runPlay(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel})

	sess, err := client.NewSessionStore("")
	if err != nil {
		return err
	}
	agent := client.NewAgent(flagServerURL, cfg.Connection, sess, logger)

	go func() {
		for u := range agent.Updates() {
			printUpdate(u)
		}
	}()

	ctx := context.Background()
	if info, err := agent.Resume(ctx); err == nil {
		fmt.Printf("Resumed room %s as player %d.\n", info.RoomID, info.PlayerNumber)
	} else {
		fmt.Println("Type \"create\" to open a room or \"join <code>\" to join one.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "create":
			info, err := agent.CreateRoom(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("Room %s created. Share the code; you are player 1.\n", info.RoomID)
		case "join":
			if len(fields) != 2 {
				fmt.Println("usage: join <code>")
				continue
			}
			info, err := agent.JoinRoom(ctx, fields[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("Joined room %s as player %d.\n", info.RoomID, info.PlayerNumber)
		case "resume":
			info, err := agent.Resume(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("Resumed room %s as player %d.\n", info.RoomID, info.PlayerNumber)
		case "select":
			if len(fields) != 2 {
				fmt.Println("usage: select <piece>")
				continue
			}
			id, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("piece must be a number")
				continue
			}
			submit(ctx, agent, func(s quarto.GameState) (quarto.GameState, bool) {
				return quarto.SelectPiece(s, id)
			})
		case "place":
			if len(fields) != 3 {
				fmt.Println("usage: place <row> <col>")
				continue
			}
			row, err1 := strconv.Atoi(fields[1])
			col, err2 := strconv.Atoi(fields[2])
			if err1 != nil || err2 != nil {
				fmt.Println("row and col must be numbers 0-3")
				continue
			}
			submit(ctx, agent, func(s quarto.GameState) (quarto.GameState, bool) {
				return quarto.PlacePiece(s, row, col)
			})
		case "board":
			printUpdate(agent.Snapshot())
		case "pieces":
			printPieces(agent.Snapshot().GameState)
		case "leave":
			agent.Leave()
			fmt.Println("Left the room.")
			return nil
		case "quit", "exit":
			return nil
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func submit(ctx context.Context, agent *client.Agent, move func(quarto.GameState) (quarto.GameState, bool)) {
	next, ok := move(agent.Snapshot().GameState)
	if !ok {
		fmt.Println("illegal move")
		return
	}
	if err := agent.Submit(ctx, next); err != nil {
		fmt.Println("error:", err)
	}
}

func printUpdate(u client.Update) {
	fmt.Println()
	fmt.Println(renderBoard(u.GameState.Board))
	switch {
	case u.GameState.Winner != nil && *u.GameState.Winner == 0:
		fmt.Println("Draw.")
	case u.GameState.Winner != nil:
		fmt.Printf("Player %d wins!\n", *u.GameState.Winner)
	case u.WaitingForPlayer:
		fmt.Println("Waiting for player 2 to join...")
	case u.GameState.GamePhase == quarto.PhaseSelect:
		fmt.Printf("Player %d picks a piece for the opponent (select <piece>).\n", u.GameState.CurrentPlayer)
	default:
		sel := "?"
		if u.GameState.SelectedPiece != nil {
			sel = pieceCode(*u.GameState.SelectedPiece)
		}
		fmt.Printf("Player %d places %s (place <row> <col>).\n", u.GameState.CurrentPlayer, sel)
	}
	if u.Status != client.StatusConnected {
		fmt.Printf("[connection: %s]\n", u.Status)
	}
}

// pieceCode is a compact glyph: number plus one letter per attribute
// (Light/Dark, Tall/Short, sQuare/Round, Hollow/sOlid).
func pieceCode(p quarto.Piece) string {
	a := p.Attributes
	code := [4]byte{'L', 'T', 'Q', 'H'}
	if a.Color == quarto.Dark {
		code[0] = 'D'
	}
	if a.Height == quarto.Short {
		code[1] = 'S'
	}
	if a.Shape == quarto.Round {
		code[2] = 'R'
	}
	if a.Top == quarto.Solid {
		code[3] = 'O'
	}
	return fmt.Sprintf("%2d:%s", p.ID, string(code[:]))
}

func renderBoard(b quarto.Board) string {
	var sb strings.Builder
	sb.WriteString("      0         1         2         3\n")
	for row := 0; row < 4; row++ {
		sb.WriteString(fmt.Sprintf("%d ", row))
		for col := 0; col < 4; col++ {
			if p := b[row][col]; p != nil {
				sb.WriteString(fmt.Sprintf("[%s] ", pieceCode(*p)))
			} else {
				sb.WriteString("[  ...  ] ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func printPieces(s quarto.GameState) {
	for _, p := range s.AvailablePieces {
		a := p.Attributes
		fmt.Printf("%2d: %s %s %s %s\n", p.ID, a.Color, a.Height, a.Shape, a.Top)
	}
}
