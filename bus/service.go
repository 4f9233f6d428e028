package bus

import (
	"errors"
	"fmt"

	"github.com/timzifer/nodebus/qos"
)

// ServiceVariant is one encoding-specific entry of a service descriptor.
// The request and reply legs of a service are distinct wire types and carry
// their own codecs.
type ServiceVariant struct {
	Encoding         Encoding
	Package          string
	Name             string
	RequestMarshal   func(msg interface{}) ([]byte, error)
	RequestUnmarshal func(data []byte) (interface{}, error)
	ReplyMarshal     func(msg interface{}) ([]byte, error)
	ReplyUnmarshal   func(data []byte) (interface{}, error)
}

// ServiceDescriptor carries the type supports offered for one service type.
type ServiceDescriptor struct {
	Variants []ServiceVariant
}

// legVariants splits a service descriptor into per-leg type descriptors
// sharing the service's type identity. The wire type names diverge through
// the request and response suffixes applied during endpoint creation.
func legVariants(desc *ServiceDescriptor) (request, reply *TypeDescriptor, err error) {
	if desc == nil {
		return nil, nil, fmt.Errorf("%w: service descriptor must not be nil", ErrInvalidArgument)
	}
	request = &TypeDescriptor{}
	reply = &TypeDescriptor{}
	for _, v := range desc.Variants {
		request.Variants = append(request.Variants, TypeVariant{
			Encoding:  v.Encoding,
			Package:   v.Package,
			Kind:      "srv",
			Name:      v.Name,
			Marshal:   v.RequestMarshal,
			Unmarshal: v.RequestUnmarshal,
		})
		reply.Variants = append(reply.Variants, TypeVariant{
			Encoding:  v.Encoding,
			Package:   v.Package,
			Kind:      "srv",
			Name:      v.Name,
			Marshal:   v.ReplyMarshal,
			Unmarshal: v.ReplyUnmarshal,
		})
	}
	return request, reply, nil
}

// ServiceOptions configure a service server endpoint pair.
type ServiceOptions struct {
	// EventCallbacks attaches a listener to the request leg.
	EventCallbacks bool
	// OnRequest is invoked per decoded request.
	OnRequest func(req interface{})
}

// Service is a service server: a reader on the request leg and a writer on
// the reply leg of one graph service name.
type Service struct {
	name    string
	request *Subscription
	reply   *Publisher
}

// CreateService creates the request and reply endpoints of a service
// server. Creation of the second leg failing rolls back the first, so a
// service either exists completely or not at all.
func (n *Node) CreateService(desc *ServiceDescriptor, serviceName string, profile qos.Profile, opts ServiceOptions) (*Service, error) {
	if err := n.valid(); err != nil {
		return nil, err
	}
	if serviceName == "" {
		return nil, fmt.Errorf("%w: service name must not be empty", ErrInvalidArgument)
	}
	requestDesc, replyDesc, err := legVariants(desc)
	if err != nil {
		return nil, err
	}
	requestVariant, err := resolveVariant(requestDesc)
	if err != nil {
		return nil, err
	}
	replyVariant, err := resolveVariant(replyDesc)
	if err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var undo releaseList
	defer undo.release()

	request, err := createSubscription(n, requestVariant, serviceRequestNaming, serviceName, profile, SubscriptionOptions{
		EventCallbacks: opts.EventCallbacks,
		OnMessage:      opts.OnRequest,
	})
	if err != nil {
		return nil, fmt.Errorf("service %s request leg: %w", serviceName, err)
	}
	undo.add(func() { _ = request.Close() })

	reply, err := createPublisher(n, replyVariant, serviceReplyNaming, serviceName, profile, PublisherOptions{})
	if err != nil {
		return nil, fmt.Errorf("service %s reply leg: %w", serviceName, err)
	}

	undo.commit()
	return &Service{name: serviceName, request: request, reply: reply}, nil
}

// Name returns the graph service name.
func (s *Service) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// TakeRequest removes and decodes the oldest pending request.
func (s *Service) TakeRequest() (interface{}, bool, error) {
	if s == nil {
		return nil, false, fmt.Errorf("%w: service must not be nil", ErrInvalidArgument)
	}
	return s.request.Take()
}

// SendReply publishes a reply on the service's reply leg.
func (s *Service) SendReply(reply interface{}) error {
	if s == nil {
		return fmt.Errorf("%w: service must not be nil", ErrInvalidArgument)
	}
	return s.reply.Publish(reply)
}

// Close releases both legs. Close is idempotent.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.reply.Close(), s.request.Close())
}

// ClientOptions configure a service client endpoint pair.
type ClientOptions struct {
	// EventCallbacks attaches a listener to the reply leg.
	EventCallbacks bool
	// OnReply is invoked per decoded reply.
	OnReply func(reply interface{})
}

// Client is a service client: a writer on the request leg and a reader on
// the reply leg of one graph service name.
type Client struct {
	name    string
	request *Publisher
	reply   *Subscription
}

// CreateClient creates the request and reply endpoints of a service
// client, with the same all-or-nothing semantics as CreateService.
func (n *Node) CreateClient(desc *ServiceDescriptor, serviceName string, profile qos.Profile, opts ClientOptions) (*Client, error) {
	if err := n.valid(); err != nil {
		return nil, err
	}
	if serviceName == "" {
		return nil, fmt.Errorf("%w: service name must not be empty", ErrInvalidArgument)
	}
	requestDesc, replyDesc, err := legVariants(desc)
	if err != nil {
		return nil, err
	}
	requestVariant, err := resolveVariant(requestDesc)
	if err != nil {
		return nil, err
	}
	replyVariant, err := resolveVariant(replyDesc)
	if err != nil {
		return nil, err
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	var undo releaseList
	defer undo.release()

	reply, err := createSubscription(n, replyVariant, serviceReplyNaming, serviceName, profile, SubscriptionOptions{
		EventCallbacks: opts.EventCallbacks,
		OnMessage:      opts.OnReply,
	})
	if err != nil {
		return nil, fmt.Errorf("client %s reply leg: %w", serviceName, err)
	}
	undo.add(func() { _ = reply.Close() })

	request, err := createPublisher(n, requestVariant, serviceRequestNaming, serviceName, profile, PublisherOptions{})
	if err != nil {
		return nil, fmt.Errorf("client %s request leg: %w", serviceName, err)
	}

	undo.commit()
	return &Client{name: serviceName, request: request, reply: reply}, nil
}

// Name returns the graph service name.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// SendRequest publishes a request on the service's request leg.
func (c *Client) SendRequest(req interface{}) error {
	if c == nil {
		return fmt.Errorf("%w: client must not be nil", ErrInvalidArgument)
	}
	return c.request.Publish(req)
}

// TakeReply removes and decodes the oldest pending reply.
func (c *Client) TakeReply() (interface{}, bool, error) {
	if c == nil {
		return nil, false, fmt.Errorf("%w: client must not be nil", ErrInvalidArgument)
	}
	return c.reply.Take()
}

// Close releases both legs. Close is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return errors.Join(c.request.Close(), c.reply.Close())
}
