package main

import (
	"context"
	"fmt"
	"io"

	"skillagent/internal/adapter/skill"
	"skillagent/internal/domain"
)

func runSkills(args []string, stdout io.Writer) error {
	configPath, _, err := commandFlags("skills", args)
	if err != nil {
		return err
	}

	cfg, log, cleanup, err := loadRuntime(context.Background(), configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	skills, err := skill.Discover(cfg.Skills.Dirs, log)
	if err != nil {
		return err
	}
	printSkills(stdout, skills)
	return nil
}

func printSkills(w io.Writer, skills []domain.Skill) {
	if len(skills) == 0 {
		fmt.Fprintln(w, styleMuted.Render("no skills found"))
		return
	}
	for _, s := range skills {
		fmt.Fprintln(w, styleBold.Render(s.Name))
		fmt.Fprintln(w, "  "+s.Description)
		fmt.Fprintln(w, "  "+styleMuted.Render(s.Location()))
	}
}

func runEncrypt(args []string, stdout io.Writer) error {
	_, rest, err := commandFlags("encrypt", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("encrypt: expected exactly one value")
	}
	out, err := encryptSecret(rest[0], lookupConfigKey())
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, out)
	return nil
}
