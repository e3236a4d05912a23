package main

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/personpages/internal/config"
	"github.com/personpages/internal/db"
	"github.com/personpages/internal/handler"
	"github.com/personpages/internal/loaddata"
	"github.com/personpages/internal/router"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	initUsername  string
	initPassword  string
	initSuperuser bool
	initModify    bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}

	loaddataCmd = &cobra.Command{
		Use:   "loaddata [file...]",
		Short: "Import people, pages and users from YAML fixtures",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLoaddata,
	}

	initUserCmd = &cobra.Command{
		Use:   "init-user",
		Short: "Create a login account if it does not exist",
		RunE:  runInitUser,
	}
)

func init() {
	initUserCmd.Flags().StringVar(&initUsername, "username", "admin", "account name")
	initUserCmd.Flags().StringVar(&initPassword, "password", "", "account password (required)")
	initUserCmd.Flags().BoolVar(&initSuperuser, "superuser", false, "grant every permission")
	initUserCmd.Flags().BoolVar(&initModify, "modify-pages", false, "allow editing every personal page")

	rootCmd.AddCommand(serveCmd, loaddataCmd, initUserCmd)
}

// bootstrap 读取配置并初始化数据库。
func bootstrap() (config.AppConfig, *config.Settings, error) {
	cfg := config.Load()
	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return cfg, nil, err
	}
	if err := db.Init(cfg.DatabasePath); err != nil {
		return cfg, nil, fmt.Errorf("initialize database: %w", err)
	}
	return cfg, settings, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, settings, err := bootstrap()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	if err := db.EnsureUser(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		return fmt.Errorf("ensure super root user: %w", err)
	}

	api, err := handler.NewAPI(db.DB, cfg, settings)
	if err != nil {
		return err
	}
	r, err := router.SetupRouter(cfg, api)
	if err != nil {
		return err
	}

	log.Printf("[server] listening on %s", cfg.ListenAddr)
	return r.Run(cfg.ListenAddr)
}

func runLoaddata(cmd *cobra.Command, args []string) error {
	cfg, settings, err := bootstrap()
	if err != nil {
		return err
	}
	api, err := handler.NewAPI(db.DB, cfg, settings)
	if err != nil {
		return err
	}

	loader := loaddata.NewLoader(db.DB, api.People())
	for _, path := range args {
		summary, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		log.Printf("[loaddata] %s: %s", path, summary)
	}
	return nil
}

func runInitUser(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(initUsername)
	if username == "" || initPassword == "" {
		return errors.New("--username and --password are required")
	}
	if _, _, err := bootstrap(); err != nil {
		return err
	}

	var existing db.User
	err := db.DB.Where("username = ?", username).First(&existing).Error
	if err == nil {
		fmt.Printf("用户 %s 已存在，无需初始化\n", username)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(initPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user := db.User{Username: username, Password: string(hashed), IsSuperuser: initSuperuser}
	if err := db.DB.Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if initModify {
		if err := db.GrantPermission(db.DB, &user, db.PermissionModifyPages); err != nil {
			return fmt.Errorf("grant permission: %w", err)
		}
	}

	fmt.Printf("用户 %s 创建成功\n", username)
	return nil
}
