package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rawblock/diceconsensus/pkg/crypto"
	"github.com/rawblock/diceconsensus/pkg/engine"
	"github.com/rawblock/diceconsensus/pkg/round"
	"github.com/rawblock/diceconsensus/pkg/wire"
)

var simulatePeerCount int

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one happy-path round with freshly generated peers",
	Long: `simulate opens a single game with --peers freshly generated participants,
drives every peer through Commit and Reveal honestly, has the designated
proposer submit the settlement, collects approving votes until the round
finalizes, and prints the resulting events. All commit/reveal entropy comes from the OS
via pkg/crypto.RandomBytes, never from a flag-supplied seed.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simulatePeerCount, "peers", 4, "roster size")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if simulatePeerCount < 1 {
		return fmt.Errorf("simulate: --peers must be at least 1")
	}

	peers := make([]simPeer, simulatePeerCount)
	for i := range peers {
		p, err := newSimPeer()
		if err != nil {
			return fmt.Errorf("simulate: generate peer %d: %w", i, err)
		}
		peers[i] = p
	}

	cfg, err := newHarnessConfig()
	if err != nil {
		return fmt.Errorf("simulate: config: %w", err)
	}
	eng := engine.New(cfg, initialBalances(peers, 10_000))

	var gameID [16]byte
	copy(gameID[:], []byte("cli-simulate-1"))

	bets := []engine.Bet{
		{Peer: peers[0].id, ID: [16]byte{1}, Type: engine.BetPassLine, Amount: 100, MaxPayout: 200},
	}
	if len(peers) > 1 {
		bets = append(bets, engine.Bet{Peer: peers[1].id, ID: [16]byte{2}, Type: engine.BetAnySeven, Amount: 50, MaxPayout: 250})
	}

	t0 := time.Now().UTC()
	handle, err := eng.OpenRound(gameID, rosterIDs(peers), bets, t0)
	if err != nil {
		return fmt.Errorf("simulate: open round: %w", err)
	}
	fmt.Fprintf(out, "opened game %x round %d with %d peers\n", handle.Game, handle.Round, len(peers))

	secrets := make(map[string]revealSecret, len(peers))

	for _, p := range peers {
		valueBytes, err := crypto.RandomBytes(32)
		if err != nil {
			return err
		}
		nonceBytes, err := crypto.RandomBytes(32)
		if err != nil {
			return err
		}
		var s revealSecret
		copy(s.value[:], valueBytes)
		copy(s.nonce[:], nonceBytes)
		secrets[p.id.String()] = s

		digest := crypto.Commit(s.value, s.nonce)
		raw, err := buildSigned(gameID, handle.Round, p, wire.KindCommit, wire.CommitBody{Digest: [32]byte(digest)}, t0)
		if err != nil {
			return err
		}
		if _, err := submit(eng, raw); err != nil {
			return fmt.Errorf("simulate: commit from %s: %w", p.id, err)
		}
	}
	printEvents(eng.Tick(t0))

	t1 := t0.Add(time.Second)
	for _, p := range peers {
		s := secrets[p.id.String()]
		raw, err := buildSigned(gameID, handle.Round, p, wire.KindReveal, wire.RevealBody{Value: s.value, Nonce: s.nonce}, t1)
		if err != nil {
			return err
		}
		if _, err := submit(eng, raw); err != nil {
			return fmt.Errorf("simulate: reveal from %s: %w", p.id, err)
		}
	}
	printEvents(eng.Tick(t1))

	combined, err := crypto.CombineRandomness(peerReveals(peers, secrets))
	if err != nil {
		return fmt.Errorf("simulate: combine randomness: %w", err)
	}

	eligible := eligibleProposers(eng, rosterIDs(peers))
	order := round.Permutation(combined, eligible)
	proposer, ok := findPeer(peers, order[0])
	if !ok {
		return fmt.Errorf("simulate: designated proposer %s not found", order[0])
	}

	entries := engine.ComputeSettlement(bets, [32]byte(combined))
	proposalBody := wire.ProposalBody{Settlement: entries, DerivedFrom: engine.DerivedFrom(bets, [32]byte(combined))}
	t2 := t1.Add(time.Second)
	raw, err := buildSigned(gameID, handle.Round, proposer, wire.KindProposal, proposalBody, t2)
	if err != nil {
		return err
	}
	if _, err := submit(eng, raw); err != nil {
		return fmt.Errorf("simulate: proposal from %s: %w", proposer.id, err)
	}

	pHash, err := proposalHash(proposalBody)
	if err != nil {
		return err
	}
	t3 := t2.Add(time.Second)
	for _, p := range peers {
		if snap, ok := eng.Query(gameID, handle.Round); ok && snap.Phase.Terminal() {
			break
		}
		raw, err := buildSigned(gameID, handle.Round, p, wire.KindVote, wire.VoteBody{ProposalHash: [32]byte(pHash), Approve: true}, t3)
		if err != nil {
			return err
		}
		if _, err := submit(eng, raw); err != nil {
			return fmt.Errorf("simulate: vote from %s: %w", p.id, err)
		}
	}
	printEvents(eng.Tick(t3))

	health := eng.Health(engine.DefaultRules(cfg.PhaseDurations.Propose))
	fmt.Fprintf(out, "health: %s (active=%d finalized=%d stalled=%d faults=%d)\n",
		health.Health, health.ActiveGames, health.FinalizedRounds, health.StalledRounds, health.ByzantineFaults)
	return nil
}
