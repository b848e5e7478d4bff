package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/abilities/bundled"
	"github.com/riyogarta/synebot/internal/agent"
)

var abilityCmd = &cobra.Command{
	Use:   "ability",
	Short: "Inspect and manage abilities (bundled and installed)",
}

var abilityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered ability and its state",
	RunE:  runAbilityList,
}

var abilityInstallCmd = &cobra.Command{
	Use:   "install <name> <module.so>",
	Short: "Register a precompiled ability plugin, disabled until enabled",
	Args:  cobra.ExactArgs(2),
	RunE:  runAbilityInstall,
}

var abilityEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an ability",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbilityEnable,
}

var abilityDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an ability",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbilityDisable,
}

func init() {
	rootCmd.AddCommand(abilityCmd)
	abilityCmd.AddCommand(abilityListCmd, abilityInstallCmd, abilityEnableCmd, abilityDisableCmd)
}

// openAbilityRegistry opens the store and builds a Registry with the
// bundled abilities registered and every persisted ability reconciled,
// the same startup sequence "run" performs.
func openAbilityRegistry(ctx context.Context, cmd *cobra.Command) (*abilities.Registry, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	reg := abilities.New(store, nil)
	reg.RegisterBundled(bundled.NewUnitConverter())
	reg.RegisterBundled(bundled.NewWorkspaceInventory("workspace"))
	reg.RegisterBundled(bundled.NewPdfExtract("workspace"))
	if err := reg.SyncBundled(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("sync bundled abilities: %w", err)
	}
	if err := reg.LoadDynamic(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("load dynamic abilities: %w", err)
	}
	return reg, func() { store.Close() }, nil
}

func runAbilityList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reg, closeFn, err := openAbilityRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, rec := range reg.List() {
		status := "disabled"
		if rec.Broken {
			status = fmt.Sprintf("broken (%s)", rec.BrokenReason)
		} else if rec.Enabled {
			status = "enabled"
		}
		fmt.Printf("%-24s %-10s %-10s %s\n", rec.Name, rec.Source, status, rec.Description)
	}
	return nil
}

func runAbilityInstall(cmd *cobra.Command, args []string) error {
	name, modulePath := args[0], args[1]
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if _, err := store.InsertAbility(ctx, agent.AbilityRecord{
		Name:                name,
		Source:              agent.AbilitySourceInstalled,
		ModulePath:          modulePath,
		Enabled:             false,
		RequiresAccessLevel: agent.AccessFamily,
	}); err != nil {
		return fmt.Errorf("install %q: %w", name, err)
	}
	fmt.Printf("installed %q from %s, disabled. Run `ability enable %s` to turn it on.\n", name, modulePath, name)
	return nil
}

func runAbilityEnable(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reg, closeFn, err := openAbilityRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	ok, msg := reg.Enable(ctx, args[0])
	fmt.Println(msg)
	if !ok {
		return fmt.Errorf("enable %q failed", args[0])
	}
	return nil
}

func runAbilityDisable(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	reg, closeFn, err := openAbilityRegistry(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	if !reg.Disable(ctx, args[0]) {
		return fmt.Errorf("ability %q not found", args[0])
	}
	fmt.Printf("ability %q disabled.\n", args[0])
	return nil
}
