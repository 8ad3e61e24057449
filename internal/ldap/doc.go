/*
Package ldap administers 389 Directory Server instances over LDAP.

# Connection Management

Client wraps go-ldap with a connection pool, SRV discovery, retry with
exponential backoff, and simple, SASL EXTERNAL or Kerberos (GSSAPI) binds.

# Managers

Each area of cn=config has a manager built on a Client:

  - MappingTreeManager: suffix entries under cn=mapping tree
  - BackendManager: ldbm and chaining database instances
  - ReplicaManager: replica entries, the changelog, and RUV reads
  - AgreementManager: replication agreements, their status, and the
    total-update (initialization) poller
  - ConfigManager: error and access log levels
  - BindDNManager: replication manager accounts

ProviderData wires all of them around one client and a shared ReplicaCache.

# Replication Initialization

StartAsync sets nsds5BeginReplicaRefresh on an agreement. CheckInit reads
the progress attributes once and classifies them into an InitState. WaitInit
polls until a terminal state, a timeout, or cancellation. StartAndWait retries
a busy consumer with capped exponential backoff.

# Errors

Failures are returned as *LDAPError carrying a category, the LDAP result code
and the DN involved. Sentinels such as ErrNoSuchEntry and ErrReplicaBusy are
matched with errors.Is.

# Example Usage

	client, err := ldap.NewClient(ctx, &ldap.ConnectionConfig{
		LDAPURLs: []string{"ldaps://ds1.example.com:636"},
		BindDN:   "cn=Directory Manager",
		Password: "password",
	})
	if err != nil {
		return err
	}
	defer client.Close()

	pd := ldap.NewProviderData(client, nil)
	status, err := pd.Agreements.StartAndWait(ctx, agreementDN, ldap.DefaultInitWaitOptions())
	if err != nil {
		return err
	}
	fmt.Println(status.State)
*/
package ldap
