package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/instruction"
)

// invocation is one instruction about to be signed and submitted.
type invocation struct {
	keys   keystore
	ctx    context.Context
	b      backend
	signer solana.PrivateKey
	// cells records accounts created for this invocation, for output.
	cells [][2]string
}

func newInvocation(ctx context.Context, b backend, signerName string) (*invocation, error) {
	ks, err := openKeystore(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	signer, err := ks.load(signerName)
	if err != nil {
		return nil, err
	}
	return &invocation{keys: ks, ctx: ctx, b: b, signer: signer}, nil
}

// cell resolves ref, or creates a fresh cell of kind when ref is empty.
func (in *invocation) cell(ref, kind string) (solana.PublicKey, error) {
	if ref != "" {
		return in.keys.resolve(ref)
	}
	k, err := in.b.createCell(in.ctx, kind)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("create %s cell: %w", kind, err)
	}
	in.cells = append(in.cells, [2]string{kind, k.String()})
	return k, nil
}

func (in *invocation) run(ix instruction.Instruction, keys ...solana.PublicKey) error {
	ledger, err := in.b.ledger(in.ctx)
	if err != nil {
		return err
	}
	nonce := uint64(time.Now().UnixNano())
	tx, err := ledger.Build(ix, nonce, []solana.PrivateKey{in.signer}, keys...)
	if err != nil {
		return err
	}
	receipt, err := in.b.submit(in.ctx, tx)
	if err != nil {
		return err
	}
	if err := printReceipt(receipt, in.cells); err != nil {
		return err
	}
	if !receipt.Succeeded() {
		return fmt.Errorf("%s failed: %s", receipt.Instruction, receipt.CodeName)
	}
	return nil
}

func printReceipt(r engine.Receipt, cells [][2]string) error {
	if viper.GetBool("json") {
		created := map[string]string{}
		for _, c := range cells {
			created[c[0]] = c[1]
		}
		return printJSON(map[string]any{"receipt": r, "created": created})
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Transaction", "Instruction", "Status", "Code", "Message"})
	tw.AppendRow(table.Row{r.ID, r.Instruction, r.Status, r.CodeName, r.Message})
	tw.Render()
	for _, c := range cells {
		fmt.Printf("created %s cell %s\n", c[0], c[1])
	}
	return nil
}

func resolveAll(ks keystore, refs ...string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(refs))
	for _, ref := range refs {
		k, err := ks.resolve(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Open, settle and retire tasks",
		Long:  "A task escrows a reward in its creator's wallet, is worked by one agent and judged by up to five judges.",
	}
	cmd.AddCommand(taskInitCmd())
	cmd.AddCommand(taskCompleteCmd())
	cmd.AddCommand(taskBurnCmd())
	return cmd
}

func taskInitCmd() *cobra.Command {
	var creator, taskRef, tokenRef, title, summary, payloadURL, currency string
	var deadline time.Duration
	var reward uint64
	var judges []string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Open a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, creator)
				if err != nil {
					return err
				}
				judgeKeys, err := resolveAll(in.keys, judges...)
				if err != nil {
					return err
				}
				task, err := in.cell(taskRef, domain.KindTask)
				if err != nil {
					return err
				}
				token := solana.NewWallet().PublicKey()
				if tokenRef != "" {
					if token, err = in.keys.resolve(tokenRef); err != nil {
						return err
					}
				}
				in.cells = append(in.cells, [2]string{"task_token", token.String()})
				return in.run(&instruction.InitializeTask{
					Title:               title,
					Summary:             summary,
					EncryptedPayloadURL: payloadURL,
					Deadline:            time.Now().Add(deadline).Unix(),
					RewardAmount:        reward,
					RewardCurrency:      currency,
					Judges:              judgeKeys,
				}, in.signer.PublicKey(), task, token)
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator key name (signs)")
	cmd.Flags().StringVar(&taskRef, "task", "", "existing task cell (default: create one)")
	cmd.Flags().StringVar(&tokenRef, "token", "", "task token mint (default: random)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&summary, "summary", "", "summary")
	cmd.Flags().StringVar(&payloadURL, "payload-url", "", "encrypted payload URL")
	cmd.Flags().DurationVar(&deadline, "deadline", 72*time.Hour, "deadline from now")
	cmd.Flags().Uint64Var(&reward, "reward", 0, "reward amount")
	cmd.Flags().StringVar(&currency, "currency", "USDC", "reward currency")
	cmd.Flags().StringArrayVar(&judges, "judge", nil, "judge wallet (repeatable, up to 5)")
	_ = cmd.MarkFlagRequired("creator")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var creator, task, agent, agentWallet string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Settle a judged task and pay an accepted agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, creator)
				if err != nil {
					return err
				}
				keys, err := resolveAll(in.keys, task, agent, agentWallet)
				if err != nil {
					return err
				}
				// the reward is paid from the creator's own wallet
				creatorKey := in.signer.PublicKey()
				return in.run(&instruction.CompleteTask{}, creatorKey, keys[0], keys[1], creatorKey, keys[2])
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator key name (signs)")
	cmd.Flags().StringVar(&task, "task", "", "task cell")
	cmd.Flags().StringVar(&agent, "agent", "", "worker agent cell")
	cmd.Flags().StringVar(&agentWallet, "agent-wallet", "", "worker wallet receiving the reward")
	for _, f := range []string{"creator", "task", "agent", "agent-wallet"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func taskBurnCmd() *cobra.Command {
	var creator, task, token string
	cmd := &cobra.Command{
		Use:   "burn",
		Short: "Burn the token of a completed task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, creator)
				if err != nil {
					return err
				}
				keys, err := resolveAll(in.keys, task, token)
				if err != nil {
					return err
				}
				return in.run(&instruction.BurnTaskNFT{}, in.signer.PublicKey(), keys[0], keys[1])
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator key name (signs)")
	cmd.Flags().StringVar(&task, "task", "", "task cell")
	cmd.Flags().StringVar(&token, "token", "", "task token mint")
	for _, f := range []string{"creator", "task", "token"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Agent profiles"}
	cmd.AddCommand(agentRegisterCmd())
	return cmd
}

func agentRegisterCmd() *cobra.Command {
	var owner, agent, name, description, agentType, publicKey string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a worker or judge agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := domain.ParseAgentType(agentType)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, owner)
				if err != nil {
					return err
				}
				cell, err := in.cell(agent, domain.KindAgent)
				if err != nil {
					return err
				}
				return in.run(&instruction.RegisterAgent{
					Name:        name,
					Description: description,
					AgentType:   typ,
					PublicKey:   publicKey,
				}, in.signer.PublicKey(), cell)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner key name (signs)")
	cmd.Flags().StringVar(&agent, "agent", "", "existing agent cell (default: create one)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&agentType, "type", "worker", "worker or judge")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "encryption public key")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func judgeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "judge", Short: "Judge profiles"}
	cmd.AddCommand(judgeRegisterCmd())
	return cmd
}

func judgeRegisterCmd() *cobra.Command {
	var owner, judge, agent, name, description, publicKey, specialization string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a judge profile on top of a judge agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, owner)
				if err != nil {
					return err
				}
				base, err := in.keys.resolve(agent)
				if err != nil {
					return err
				}
				cell, err := in.cell(judge, domain.KindJudge)
				if err != nil {
					return err
				}
				return in.run(&instruction.RegisterJudge{
					Name:           name,
					Description:    description,
					PublicKey:      publicKey,
					Specialization: specialization,
				}, in.signer.PublicKey(), cell, base)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner key name (signs)")
	cmd.Flags().StringVar(&judge, "judge", "", "existing judge cell (default: create one)")
	cmd.Flags().StringVar(&agent, "agent", "", "judge agent cell")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "encryption public key")
	cmd.Flags().StringVar(&specialization, "specialization", "", "specialization")
	for _, f := range []string{"owner", "agent", "name"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func stakeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stake", Short: "Stakes on tasks"}
	cmd.AddCommand(stakeCreateCmd())
	cmd.AddCommand(stakeReturnCmd())
	return cmd
}

func stakeCreateCmd() *cobra.Command {
	var owner, stake, task, agent string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Stake on an open task and claim it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, owner)
				if err != nil {
					return err
				}
				keys, err := resolveAll(in.keys, task, agent)
				if err != nil {
					return err
				}
				cell, err := in.cell(stake, domain.KindStake)
				if err != nil {
					return err
				}
				return in.run(&instruction.StakeOnTask{Amount: amount}, in.signer.PublicKey(), cell, keys[0], keys[1])
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "agent owner key name (signs)")
	cmd.Flags().StringVar(&stake, "stake", "", "existing stake cell (default: create one)")
	cmd.Flags().StringVar(&task, "task", "", "task cell")
	cmd.Flags().StringVar(&agent, "agent", "", "worker agent cell")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "stake amount")
	for _, f := range []string{"owner", "task", "agent", "amount"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func stakeReturnCmd() *cobra.Command {
	var judge, stake, agent, task string
	cmd := &cobra.Command{
		Use:   "return",
		Short: "Return or slash a stake after judging",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, judge)
				if err != nil {
					return err
				}
				keys, err := resolveAll(in.keys, stake, agent, task)
				if err != nil {
					return err
				}
				return in.run(&instruction.ReturnStake{}, append([]solana.PublicKey{in.signer.PublicKey()}, keys...)...)
			})
		},
	}
	cmd.Flags().StringVar(&judge, "judge", "", "judge wallet key name (signs)")
	cmd.Flags().StringVar(&stake, "stake", "", "stake cell")
	cmd.Flags().StringVar(&agent, "agent", "", "staking agent cell")
	cmd.Flags().StringVar(&task, "task", "", "task cell")
	for _, f := range []string{"judge", "stake", "agent", "task"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func deliverableCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "deliverable", Short: "Deliverables and their judgement"}
	cmd.AddCommand(deliverableSubmitCmd())
	cmd.AddCommand(deliverableJudgeCmd())
	return cmd
}

func deliverableSubmitCmd() *cobra.Command {
	var owner, deliverable, task, agent, contentURL string
	var sealed []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit work for a claimed task",
		Long:  "Each --key is judge=sealed-key: the content key sealed to that judge.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, owner)
				if err != nil {
					return err
				}
				var encKeys []domain.EncryptionKey
				for _, s := range sealed {
					judgeRef, key, ok := strings.Cut(s, "=")
					if !ok {
						return fmt.Errorf("--key %q: want judge=key", s)
					}
					j, err := in.keys.resolve(judgeRef)
					if err != nil {
						return err
					}
					encKeys = append(encKeys, domain.EncryptionKey{Judge: j, Key: key})
				}
				keys, err := resolveAll(in.keys, task, agent)
				if err != nil {
					return err
				}
				cell, err := in.cell(deliverable, domain.KindDeliverable)
				if err != nil {
					return err
				}
				return in.run(&instruction.SubmitDeliverable{
					EncryptedContentURL: contentURL,
					EncryptionKeys:      encKeys,
				}, in.signer.PublicKey(), cell, keys[0], keys[1])
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "agent owner key name (signs)")
	cmd.Flags().StringVar(&deliverable, "deliverable", "", "existing deliverable cell (default: create one)")
	cmd.Flags().StringVar(&task, "task", "", "task cell")
	cmd.Flags().StringVar(&agent, "agent", "", "worker agent cell")
	cmd.Flags().StringVar(&contentURL, "content-url", "", "encrypted content URL")
	cmd.Flags().StringArrayVar(&sealed, "key", nil, "judge=sealed-key (repeatable)")
	for _, f := range []string{"owner", "task", "agent", "content-url"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func deliverableJudgeCmd() *cobra.Command {
	var owner, deliverable, task, judge, feedback string
	var score uint8
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Score a deliverable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend) error {
				in, err := newInvocation(ctx, b, owner)
				if err != nil {
					return err
				}
				keys, err := resolveAll(in.keys, deliverable, task, judge)
				if err != nil {
					return err
				}
				return in.run(&instruction.JudgeDeliverable{Score: score, Feedback: feedback},
					append([]solana.PublicKey{in.signer.PublicKey()}, keys...)...)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "judge wallet key name (signs)")
	cmd.Flags().StringVar(&deliverable, "deliverable", "", "deliverable cell")
	cmd.Flags().StringVar(&task, "task", "", "task cell")
	cmd.Flags().StringVar(&judge, "judge", "", "judge profile cell")
	cmd.Flags().Uint8Var(&score, "score", 0, "score 0-100")
	cmd.Flags().StringVar(&feedback, "feedback", "", "feedback")
	for _, f := range []string{"owner", "deliverable", "task", "judge", "score"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
