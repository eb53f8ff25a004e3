// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	"go.mau.fi/mautrix-meta/pkg/msgrapi"
	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

// GetLoginFlows returns the available login methods for the bridge.
func (mc *MetaConnector) GetLoginFlows() []bridgev2.LoginFlow {
	return []bridgev2.LoginFlow{
		{
			Name:        "Email and password",
			Description: "Log in with your Facebook/Messenger email and password",
			ID:          "password",
		},
	}
}

// CreateLogin starts a new login process for the given flow.
func (mc *MetaConnector) CreateLogin(_ context.Context, user *bridgev2.User, flowID string) (bridgev2.LoginProcess, error) {
	switch flowID {
	case "password":
		return &PasswordLoginProcess{connector: mc, user: user}, nil
	default:
		return nil, fmt.Errorf("unknown login flow: %s", flowID)
	}
}

// PasswordLoginProcess drives the email/password → two-factor →
// approved-machine login state machine. One instance lives for the
// duration of a single login attempt.
type PasswordLoginProcess struct {
	connector *MetaConnector
	user      *bridgev2.User

	state  *msgrapi.State
	client *msgrapihttp.Client
	email  string

	awaitingTwoFactor bool
}

var _ bridgev2.LoginProcessUserInput = (*PasswordLoginProcess)(nil)

func (p *PasswordLoginProcess) Start(_ context.Context) (*bridgev2.LoginStep, error) {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeUserInput,
		StepID:       "fi.mau.meta.login.credentials",
		Instructions: "Enter your Facebook email and password",
		UserInputParams: &bridgev2.LoginUserInputParams{
			Fields: []bridgev2.LoginInputDataField{
				{
					Type: bridgev2.LoginInputFieldTypeUsername,
					ID:   "email",
					Name: "Email",
				},
				{
					Type: bridgev2.LoginInputFieldTypePassword,
					ID:   "password",
					Name: "Password",
				},
			},
		},
	}, nil
}

func (p *PasswordLoginProcess) SubmitUserInput(ctx context.Context, input map[string]string) (*bridgev2.LoginStep, error) {
	if p.awaitingTwoFactor {
		return p.submitTwoFactor(ctx, input["code"])
	}
	return p.submitCredentials(ctx, input["email"], input["password"])
}

func (p *PasswordLoginProcess) Cancel() {}

func (p *PasswordLoginProcess) submitCredentials(ctx context.Context, email, password string) (*bridgev2.LoginStep, error) {
	p.email = email
	p.state = newAccountState(p.connector.Config, string(p.user.MXID))

	client, err := msgrapihttp.NewClient(p.state, p.connector.Bridge.Log.With().Str("component", "login").Logger(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to build login client: %w", err)
	}
	p.client = client

	pubkey, keyID, err := client.FetchPasswordEncryptionKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch password encryption key: %w", err)
	}
	p.state.Session.PasswordEncryptionPubkey = pubkey
	p.state.Session.PasswordEncryptionKeyID = keyID

	encrypted, err := msgrapihttp.EncryptPassword(password, pubkey, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}

	result, err := client.Login(ctx, email, encrypted)
	if err != nil {
		var twoFactor *msgrapihttp.TwoFactorRequiredError
		if errors.As(err, &twoFactor) {
			p.awaitingTwoFactor = true
			return &bridgev2.LoginStep{
				Type:         bridgev2.LoginStepTypeUserInput,
				StepID:       "fi.mau.meta.login.two_factor",
				Instructions: "Enter the two-factor authentication code, or leave it blank if you approved this login from the Facebook app",
				UserInputParams: &bridgev2.LoginUserInputParams{
					Fields: []bridgev2.LoginInputDataField{
						{
							Type: bridgev2.LoginInputFieldTypeToken,
							ID:   "code",
							Name: "Two-factor code",
						},
					},
				},
			}, nil
		}
		return nil, err
	}

	return p.finishLogin(ctx, result)
}

func (p *PasswordLoginProcess) submitTwoFactor(ctx context.Context, code string) (*bridgev2.LoginStep, error) {
	if p.client == nil {
		return nil, fmt.Errorf("no login in progress")
	}

	if code == "" {
		result, err := p.pollApprovedMachine(ctx)
		if err != nil {
			return nil, err
		}
		return p.finishLogin(ctx, result)
	}

	result, err := p.client.LoginTwoFactor(ctx, p.email, code)
	if err != nil {
		return nil, err
	}
	return p.finishLogin(ctx, result)
}

// pollApprovedMachine polls check_approved_machine a few times for a user
// who approved the login from their phone instead of typing a code, then
// completes the login via the transient-token variant.
func (p *PasswordLoginProcess) pollApprovedMachine(ctx context.Context) (*msgrapihttp.LoginResult, error) {
	const attempts = 6
	for i := 0; i < attempts; i++ {
		approved, err := p.client.CheckApprovedMachine(ctx)
		if err != nil {
			return nil, err
		}
		if approved {
			return p.client.LoginApprovedMachine(ctx)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return nil, fmt.Errorf("login was not approved in time")
}

func (p *PasswordLoginProcess) finishLogin(ctx context.Context, result *msgrapihttp.LoginResult) (*bridgev2.LoginStep, error) {
	loginID := MakeUserLoginID(result.UID)

	ul, err := p.user.NewLogin(ctx, &database.UserLogin{
		ID:         loginID,
		RemoteName: fmt.Sprintf("fbid:%d", result.UID),
	}, &bridgev2.NewLoginParams{
		LoadUserLogin: p.connector.LoadUserLogin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create login: %w", err)
	}

	meta := ul.Metadata.(*UserLoginMetadata)
	meta.State = p.state
	if err := ul.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to save login: %w", err)
	}

	client := ul.Client.(*MetaClient)
	go client.Connect(context.WithoutCancel(ctx))

	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeComplete,
		StepID:       "fi.mau.meta.login.complete",
		Instructions: fmt.Sprintf("Logged in as fbid %d", result.UID),
		CompleteParams: &bridgev2.LoginCompleteParams{
			UserLoginID: loginID,
			UserLogin:   ul,
		},
	}, nil
}
