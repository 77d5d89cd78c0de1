package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/fyerfyer/pdf-QA-system/pkg/storage"
)

const folderMimeType = "application/vnd.google-apps.folder"

// ErrNoCredentials 未找到令牌文件
var ErrNoCredentials = errors.New("google drive token file not found; token.json must be created on first run")

// Uploader 图片上传接口
type Uploader interface {
	// Upload 上传到以folder命名的文件夹，返回云端文件ID
	Upload(ctx context.Context, folder, name string, data io.Reader) (string, error)
}

// Config Google Drive配置
type Config struct {
	TokenFile       string // 授权用户令牌(token.json)
	CredentialsFile string // 服务账号密钥，优先于TokenFile
	ParentFolderID  string // 新建文件夹的上级目录，空表示根目录
}

// DriveUploader 基于Drive v3 API的上传器
type DriveUploader struct {
	svc      *gdrive.Service
	parentID string
	logger   *logrus.Logger

	mu      sync.Mutex
	folders map[string]string // 文件夹名 -> ID
}

// New 读取凭据并创建上传器
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*DriveUploader, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(gdrive.DriveScope))
	default:
		ts, err := tokenSourceFromFile(ctx, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithTokenSource(ts))
	}

	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return NewWithService(svc, cfg.ParentFolderID, logger), nil
}

// NewWithService 使用已有的Drive服务创建上传器
func NewWithService(svc *gdrive.Service, parentID string, logger *logrus.Logger) *DriveUploader {
	if logger == nil {
		logger = logrus.New()
	}
	return &DriveUploader{
		svc:      svc,
		parentID: parentID,
		logger:   logger,
		folders:  make(map[string]string),
	}
}

// FindOrCreateFolder 查找未删除的同名文件夹，不存在则创建
func (u *DriveUploader) FindOrCreateFolder(ctx context.Context, name string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if id, ok := u.folders[name]; ok {
		return id, nil
	}

	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeQuery(name), folderMimeType)
	if u.parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(u.parentID))
	}
	list, err := u.svc.Files.List().Q(q).Spaces("drive").Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to search folder: %w", err)
	}
	if len(list.Files) > 0 {
		u.folders[name] = list.Files[0].Id
		return list.Files[0].Id, nil
	}

	folder := &gdrive.File{Name: name, MimeType: folderMimeType}
	if u.parentID != "" {
		folder.Parents = []string{u.parentID}
	}
	created, err := u.svc.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create folder: %w", err)
	}

	u.logger.WithFields(logrus.Fields{
		"folder":    name,
		"folder_id": created.Id,
	}).Info("Created drive folder")

	u.folders[name] = created.Id
	return created.Id, nil
}

// Upload 上传文件，MIME类型由扩展名推断
func (u *DriveUploader) Upload(ctx context.Context, folder, name string, data io.Reader) (string, error) {
	folderID, err := u.FindOrCreateFolder(ctx, folder)
	if err != nil {
		return "", err
	}

	file := &gdrive.File{Name: name, Parents: []string{folderID}}
	created, err := u.svc.Files.Create(file).
		Media(data, googleapi.ContentType(storage.MimeType(name))).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	return created.Id, nil
}

// NoopUploader 未启用云盘时使用
type NoopUploader struct{}

// Upload 不做任何事
func (NoopUploader) Upload(context.Context, string, string, io.Reader) (string, error) {
	return "", nil
}

// escapeQuery 转义查询字符串中的单引号和反斜杠
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// authorizedUser google-auth库写出的token.json格式
type authorizedUser struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Expiry       string   `json:"expiry"`
}

// tokenSourceFromFile 从token.json构建可自动刷新的令牌源
func tokenSourceFromFile(ctx context.Context, path string) (oauth2.TokenSource, error) {
	if path == "" {
		path = "token.json"
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return parseAuthorizedUser(ctx, data)
}

func parseAuthorizedUser(ctx context.Context, data []byte) (oauth2.TokenSource, error) {
	var au authorizedUser
	if err := json.Unmarshal(data, &au); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if au.Token == "" && au.RefreshToken == "" {
		return nil, fmt.Errorf("token file has neither access nor refresh token")
	}

	endpoint := google.Endpoint
	if au.TokenURI != "" {
		endpoint.TokenURL = au.TokenURI
	}
	scopes := au.Scopes
	if len(scopes) == 0 {
		scopes = []string{gdrive.DriveScope}
	}
	conf := &oauth2.Config{
		ClientID:     au.ClientID,
		ClientSecret: au.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}

	tok := &oauth2.Token{
		AccessToken:  au.Token,
		RefreshToken: au.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       parseExpiry(au.Expiry),
	}
	// 无法确定过期时间且可刷新时，立即刷新一次
	if tok.Expiry.IsZero() && tok.RefreshToken != "" {
		tok.Expiry = time.Now().Add(-time.Minute)
	}
	return conf.TokenSource(ctx, tok), nil
}

func parseExpiry(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
